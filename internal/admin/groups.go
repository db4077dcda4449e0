package admin

import (
	"context"
	"strings"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// PutGroup validates and persists group.
func (m *Manager) PutGroup(ctx context.Context, group config.Group) (string, error) {
	if err := requireID(group.ID); err != nil {
		return "", err
	}
	lock := m.lockFor("groups", group.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.PutResource(ctx, "groups", group.ID, group); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "groups"), nil
}

// DeleteGroup rejects deletion while another group still inherits it or the
// platform's default-group mapping still assigns it.
func (m *Manager) DeleteGroup(ctx context.Context, id string) (string, error) {
	if err := requireID(id); err != nil {
		return "", err
	}
	lock := m.lockFor("groups", id)
	lock.Lock()
	defer lock.Unlock()

	snap := m.cache.Snapshot()
	var referencedBy []string
	for _, g := range snap.GroupList() {
		for _, inherited := range g.Inherits {
			if inherited == id {
				referencedBy = append(referencedBy, g.ID)
				break
			}
		}
	}
	for provider, groups := range snap.Platform.DefaultGroups {
		for _, g := range groups {
			if g == id {
				referencedBy = append(referencedBy, "defaultGroups."+provider)
			}
		}
	}
	if len(referencedBy) > 0 {
		return "", apierror.New(apierror.CodeValidation,
			"group is still referenced by: "+strings.Join(referencedBy, ", "))
	}

	if err := m.cache.DeleteResourceFile(ctx, "groups", id); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "groups"), nil
}
