// Package content provides access to chapter text, translations and per-verse
// audio through an ordered chain of providers.
package content

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tilawa/internal/domain/verse"
)

// ErrNotFound is returned by a provider that has no data for a request.
var ErrNotFound = errors.New("content not found")

// Provider is the interface for content providers.
type Provider interface {
	// Chapters returns the chapter metadata list in canonical order.
	Chapters(ctx context.Context) ([]verse.Chapter, error)
	// Edition returns one chapter's verses in the given edition.
	// Reciter editions may carry per-verse audio URLs.
	Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error)
	// Name returns the provider name (used in config).
	Name() string
}

// Writer is implemented by providers that can store content fetched elsewhere.
type Writer interface {
	PutChapters(ctx context.Context, chapters []verse.Chapter) error
	PutEdition(ctx context.Context, text *verse.EditionText) error
}
