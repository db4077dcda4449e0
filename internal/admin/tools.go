package admin

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// PutTool validates and persists tool.
func (m *Manager) PutTool(ctx context.Context, tool config.Tool) (string, error) {
	if err := requireID(tool.ID); err != nil {
		return "", err
	}
	lock := m.lockFor("tools", tool.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.PutResource(ctx, "tools", tool.ID, tool); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "tools"), nil
}

// DeleteTool removes tool id. An app referencing a removed tool id simply
// loses that tool from its resolved set on the next request (resolveTools
// intersects with the live registry), so no dependency rejection is needed
// here unlike sources/models/groups.
func (m *Manager) DeleteTool(ctx context.Context, id string) (string, error) {
	if err := requireID(id); err != nil {
		return "", err
	}
	lock := m.lockFor("tools", id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.DeleteResourceFile(ctx, "tools", id); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "tools"), nil
}
