package assets

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fluxpanel/workflow-engine/services/storage"
)

// StorageStore adapts the repository's UpsertAssetByProviderURL to the
// Persister's narrower Store interface.
type StorageStore struct {
	storage storage.Storage
}

// NewStorageStore wraps store as a Store for AssetPersister.
func NewStorageStore(store storage.Storage) *StorageStore {
	return &StorageStore{storage: store}
}

func (s *StorageStore) UpsertAsset(ctx context.Context, userID string, asset DurableAsset) (*DurableAsset, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("storage store: invalid user id %q: %w", userID, err)
	}

	var mimeType *string
	if asset.MimeType != "" {
		mimeType = &asset.MimeType
	}

	saved, err := s.storage.UpsertAssetByProviderURL(ctx, &storage.Asset{
		UserID:   ownerID,
		Kind:     storageAssetKind(asset.Kind),
		URL:      asset.URL,
		Provider: asset.Provider,
		MimeType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("storage store: upsert asset: %w", err)
	}

	mime := ""
	if saved.MimeType != nil {
		mime = *saved.MimeType
	}
	return &DurableAsset{
		ID:       saved.ID.String(),
		Provider: saved.Provider,
		URL:      saved.URL,
		Kind:     Kind(strings.ToLower(string(saved.Kind))),
		MimeType: mime,
	}, nil
}

func storageAssetKind(k Kind) storage.AssetKind {
	if k == KindVideo {
		return storage.AssetKindVideo
	}
	return storage.AssetKindImage
}
