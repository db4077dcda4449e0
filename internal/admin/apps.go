package admin

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// PutApp validates and persists app, then refreshes the cache.
func (m *Manager) PutApp(ctx context.Context, app config.App) (string, error) {
	if err := requireID(app.ID); err != nil {
		return "", err
	}
	lock := m.lockFor("apps", app.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.PutResource(ctx, "apps", app.ID, app); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "apps"), nil
}

// DeleteApp removes app id. Apps have no dependents in this data model (no
// other resource references an app by id), so no dependency check is
// required before deleting.
func (m *Manager) DeleteApp(ctx context.Context, id string) (string, error) {
	if err := requireID(id); err != nil {
		return "", err
	}
	lock := m.lockFor("apps", id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.DeleteResourceFile(ctx, "apps", id); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "apps"), nil
}
