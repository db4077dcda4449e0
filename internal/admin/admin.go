// Package admin implements Admin CRUD: per-resource validation,
// a per-file write lock, atomic on-disk writes, and a synchronous cache
// refresh so the caller can report the new ETag in the same response.
// Every write follows validate -> persist -> refresh-cache -> respond over
// the gateway's plain config structs.
package admin

import (
	"context"
	"fmt"
	"sync"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/secrets"
)

// Manager implements every C11 admin operation against one config.Cache.
type Manager struct {
	cache    *config.Cache
	keyCrypt *secrets.KeyCrypt

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Manager. keyCrypt may be nil if model API key encryption
// is not configured; writes that carry a plaintext key then fail loudly
// rather than persisting it unencrypted.
func New(cache *config.Cache, keyCrypt *secrets.KeyCrypt) *Manager {
	return &Manager{cache: cache, keyCrypt: keyCrypt, locks: map[string]*sync.Mutex{}}
}

// lockFor returns the per-"kind:id" write lock, creating it on first use.
func (m *Manager) lockFor(kind, id string) *sync.Mutex {
	key := kind + ":" + id
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func requireID(id string) error {
	if id == "" {
		return apierror.New(apierror.CodeValidation, "id is required").WithField("id")
	}
	return nil
}

// dependentApps returns the ids of every app in snap matching pred, for
// building a dependent-resource rejection message.
func dependentApps(snap *config.Snapshot, pred func(config.App) bool) []string {
	var ids []string
	for _, a := range snap.AppList() {
		if pred(a) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func rejectIfDependent(resourceKind, id string, dependents []string) error {
	if len(dependents) == 0 {
		return nil
	}
	return apierror.New(apierror.CodeValidation,
		fmt.Sprintf("%s %q is still referenced by app(s) %v", resourceKind, id, dependents))
}

func (m *Manager) refreshAndETag(ctx context.Context, resource string) string {
	return m.cache.GlobalETag(resource)
}
