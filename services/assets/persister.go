// Package assets implements durable asset persistence and Transloadit-style
// assembly resolution: the two pieces of the pipeline that turn a compute
// node's raw output URL (possibly a temporary or base64 data URL) into a
// durable, provider-hosted asset row.
package assets

import (
	"context"
	"fmt"

	"github.com/fluxpanel/workflow-engine/pkg/apierr"
)

// Kind is the media kind a durable asset carries.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// DurableAsset is the persisted record of a provider-hosted file.
type DurableAsset struct {
	ID       string
	Provider string
	URL      string
	Kind     Kind
	MimeType string
}

// Provider abstracts the durable storage backend (e.g. Cloudinary): it knows
// whether a URL is already one of its own durable URLs, and how to upload a
// remote or data URL into durable storage.
type Provider interface {
	Name() string
	IsDurableURL(url string) bool
	UploadFromURL(ctx context.Context, sourceURL string, kind Kind) (durableURL, mimeType string, err error)
}

// Store is the subset of the storage repository the persister needs: an
// idempotent upsert keyed on (provider, url), scoped to the owning user.
type Store interface {
	UpsertAsset(ctx context.Context, userID string, asset DurableAsset) (*DurableAsset, error)
}

// Persister is what node executors depend on to turn raw output into a
// durable asset.
type Persister interface {
	PersistDurableAsset(ctx context.Context, userID string, kind Kind, sourceURL, assemblyID, mimeHint string) (*DurableAsset, error)
}

// AssetPersister is the production Persister.
type AssetPersister struct {
	provider Provider
	store    Store
}

// New constructs an AssetPersister. provider may be nil, in which case
// PersistDurableAsset fails PROVIDER_NOT_CONFIGURED for any source URL that
// isn't already durable.
func New(provider Provider, store Store) *AssetPersister {
	return &AssetPersister{provider: provider, store: store}
}

func (p *AssetPersister) PersistDurableAsset(ctx context.Context, userID string, kind Kind, sourceURL, assemblyID, mimeHint string) (*DurableAsset, error) {
	url := sourceURL
	mime := mimeHint
	providerName := "external"

	alreadyDurable := p.provider != nil && p.provider.IsDurableURL(sourceURL)
	if !alreadyDurable {
		if p.provider == nil {
			return nil, apierr.New(apierr.CodeProviderNotConfigured, "durable asset provider not configured")
		}
		durableURL, providerMime, err := p.provider.UploadFromURL(ctx, sourceURL, kind)
		if err != nil {
			return nil, fmt.Errorf("persist asset: upload from url failed: %w", err)
		}
		url = durableURL
		if providerMime != "" {
			mime = providerMime
		}
		providerName = p.provider.Name()
	} else {
		providerName = p.provider.Name()
	}

	if mime == "" {
		mime = defaultMime(kind)
	}

	asset, err := p.store.UpsertAsset(ctx, userID, DurableAsset{
		Provider: providerName,
		URL:      url,
		Kind:     kind,
		MimeType: mime,
	})
	if err != nil {
		return nil, fmt.Errorf("persist asset: upsert failed: %w", err)
	}
	return asset, nil
}

func defaultMime(kind Kind) string {
	if kind == KindVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}
