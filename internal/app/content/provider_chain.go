package content

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/domain/verse"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// ProviderChain tries providers in order until one answers. Content served by
// a later provider is written back into earlier providers that are Writers.
type ProviderChain struct {
	providers []ProviderWithMetadata
}

// NewProviderChain creates a new provider chain.
func NewProviderChain(providers []ProviderWithMetadata) *ProviderChain {
	return &ProviderChain{
		providers: providers,
	}
}

// Chapters returns the chapter list from the first provider that has it.
func (c *ProviderChain) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	var lastErr error
	for i, pm := range c.providers {
		chapters, err := pm.Provider.Chapters(ctx)
		if err != nil {
			c.logMiss(pm, "chapters", err)
			lastErr = err
			continue
		}
		if len(chapters) == 0 {
			zlog.Debug().Msgf("provider returned no chapters: provider=%s", pm.DisplayName)
			continue
		}

		c.writeBack(i, func(w Writer) error { return w.PutChapters(ctx, chapters) })
		return chapters, nil
	}
	return nil, c.exhausted(lastErr)
}

// Edition returns a chapter edition from the first provider that has it.
func (c *ProviderChain) Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error) {
	var lastErr error
	for i, pm := range c.providers {
		text, err := pm.Provider.Edition(ctx, chapter, edition)
		if err != nil {
			c.logMiss(pm, edition, err)
			lastErr = err
			continue
		}
		if text == nil || len(text.Ayahs) == 0 {
			zlog.Debug().Msgf("provider returned no ayahs: provider=%s chapter=%d edition=%s", pm.DisplayName, chapter, edition)
			continue
		}

		zlog.Debug().Msgf("provider served edition: provider=%s chapter=%d edition=%s ayahs=%d",
			pm.DisplayName, chapter, edition, len(text.Ayahs))
		c.writeBack(i, func(w Writer) error { return w.PutEdition(ctx, text) })
		return text, nil
	}
	return nil, c.exhausted(lastErr)
}

// Name returns the chain name.
func (c *ProviderChain) Name() string {
	return "provider_chain"
}

// writeBack stores content in the Writer providers ahead of index served.
func (c *ProviderChain) writeBack(served int, put func(Writer) error) {
	for _, pm := range c.providers[:served] {
		w, ok := pm.Provider.(Writer)
		if !ok {
			continue
		}
		if err := put(w); err != nil {
			zlog.Warn().Msgf("failed to write back content: provider=%s error=%v", pm.DisplayName, err)
		}
	}
}

func (c *ProviderChain) logMiss(pm ProviderWithMetadata, what string, err error) {
	if errors.Is(err, ErrNotFound) {
		zlog.Debug().Msgf("provider miss, trying next: provider=%s request=%s", pm.DisplayName, what)
		return
	}
	zlog.Warn().Msgf("provider failed, trying next: provider=%s request=%s error=%v", pm.DisplayName, what, err)
}

func (c *ProviderChain) exhausted(lastErr error) error {
	if lastErr == nil {
		return errors.Mark(errors.New("all providers returned no content"), ErrNotFound)
	}
	return errors.Wrap(lastErr, "all providers failed")
}

// Close releases providers holding resources.
func (c *ProviderChain) Close() error {
	closeProviders(c.providers)
	return nil
}
