package admin

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// PutPlatform validates and persists the platform configuration singleton.
func (m *Manager) PutPlatform(ctx context.Context, platform config.PlatformConfig) (string, error) {
	lock := m.lockFor("config", "platform")
	lock.Lock()
	defer lock.Unlock()

	if err := m.cache.PutPlatform(ctx, platform); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "platform"), nil
}
