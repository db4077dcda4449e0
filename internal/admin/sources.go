package admin

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// PutSource validates and persists source.
func (m *Manager) PutSource(ctx context.Context, source config.Source) (string, error) {
	if err := requireID(source.ID); err != nil {
		return "", err
	}
	lock := m.lockFor("sources", source.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.PutResource(ctx, "sources", source.ID, source); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "sources"), nil
}

// DeleteSource rejects deletion of a source any app still binds.
func (m *Manager) DeleteSource(ctx context.Context, id string) (string, error) {
	if err := requireID(id); err != nil {
		return "", err
	}
	lock := m.lockFor("sources", id)
	lock.Lock()
	defer lock.Unlock()

	snap := m.cache.Snapshot()
	dependents := dependentApps(snap, func(a config.App) bool {
		for _, b := range a.Sources {
			if b.SourceID == id {
				return true
			}
		}
		return false
	})
	if err := rejectIfDependent("source", id, dependents); err != nil {
		return "", err
	}

	if err := m.cache.DeleteResourceFile(ctx, "sources", id); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "sources"), nil
}
