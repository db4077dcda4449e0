package admin

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/secrets"
)

// PutModel validates and persists model.
// model.EncryptedAPIKey is treated as caller input in one of three states:
// empty (no key / leave unset), secrets.MaskedPlaceholder (admin UI echoed
// back a key it never displayed — preserve whatever is already on disk), or
// a fresh plaintext key to encrypt and store.
func (m *Manager) PutModel(ctx context.Context, model config.Model) (string, error) {
	if err := requireID(model.ID); err != nil {
		return "", err
	}

	lock := m.lockFor("models", model.ID)
	lock.Lock()
	defer lock.Unlock()

	switch model.EncryptedAPIKey {
	case "":
		// no key supplied; leave unset
	case secrets.MaskedPlaceholder:
		existing, ok := m.cache.Model(model.ID)
		if !ok || existing.EncryptedAPIKey == "" {
			// Cold cache just after a prior write: the snapshot may not yet
			// reflect the on-disk file.
			if fromDisk, diskOK := m.cache.ModelFromDisk(model.ID); diskOK {
				existing, ok = fromDisk, true
			}
		}
		if !ok {
			return "", apierror.New(apierror.CodeValidation, "cannot preserve an API key for a model that does not yet exist").WithField("apiKey")
		}
		model.EncryptedAPIKey = existing.EncryptedAPIKey
	default:
		if m.keyCrypt == nil {
			return "", apierror.New(apierror.CodeInternal, "model API key encryption is not configured")
		}
		encrypted, err := m.keyCrypt.Encrypt(model.EncryptedAPIKey)
		if err != nil {
			return "", apierror.Wrap(apierror.CodeInternal, "failed to encrypt model API key", err)
		}
		model.EncryptedAPIKey = encrypted
	}

	if err := m.cache.PutResource(ctx, "models", model.ID, model); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "models"), nil
}

// DeleteModel rejects deletion of a model that is any app's preferredModel.
func (m *Manager) DeleteModel(ctx context.Context, id string) (string, error) {
	if err := requireID(id); err != nil {
		return "", err
	}
	lock := m.lockFor("models", id)
	lock.Lock()
	defer lock.Unlock()

	snap := m.cache.Snapshot()
	dependents := dependentApps(snap, func(a config.App) bool { return a.PreferredModel == id })
	if err := rejectIfDependent("model", id, dependents); err != nil {
		return "", err
	}

	if err := m.cache.DeleteResourceFile(ctx, "models", id); err != nil {
		return "", err
	}
	return m.refreshAndETag(ctx, "models"), nil
}
