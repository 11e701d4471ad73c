package content

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/domain/verse"
	"github.com/osa030/tilawa/internal/infra/alquran"
	"github.com/osa030/tilawa/internal/infra/cache"
	"github.com/osa030/tilawa/internal/infra/config"
)

// AlquranProviderConfig holds the settings of an "alquran" provider.
type AlquranProviderConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url" default:"https://api.alquran.cloud/v1" validate:"required,url"`
	TimeoutMs         int     `yaml:"timeout_ms" mapstructure:"timeout_ms" default:"10000" validate:"gte=100"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" default:"5" validate:"gt=0"`
	Burst             int     `yaml:"burst" mapstructure:"burst" default:"2" validate:"gte=1"`
}

// SQLiteProviderConfig holds the settings of a "sqlite" provider.
type SQLiteProviderConfig struct {
	Path string `yaml:"path" mapstructure:"path" default:"data/tilawa.db" validate:"required"`
}

// NewChainFromConfig creates a provider chain from configuration.
func NewChainFromConfig(cfg *config.Config) (*ProviderChain, error) {
	if len(cfg.Content.Providers) == 0 {
		return nil, errors.New("no content providers configured")
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range cfg.Content.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating content provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)
		switch pcfg.Type {
		case "alquran":
			provider, err = newAlquranProvider(pcfg.Settings)

		case "sqlite":
			provider, err = newSQLiteProvider(pcfg.Settings)

		default:
			err = errors.Newf("unsupported provider type: %s", pcfg.Type)
		}

		if err != nil {
			closeProviders(providers)
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered content provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewProviderChain(providers), nil
}

func decodeSettings(settings map[string]any, out any) error {
	if err := mapstructure.Decode(settings, out); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}

func newAlquranProvider(settings map[string]any) (Provider, error) {
	var pc AlquranProviderConfig
	if err := decodeSettings(settings, &pc); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("alquran provider config: %+v", pc)

	client, err := alquran.New(alquran.Config{
		BaseURL:           pc.BaseURL,
		Timeout:           time.Duration(pc.TimeoutMs) * time.Millisecond,
		RequestsPerSecond: pc.RequestsPerSecond,
		Burst:             pc.Burst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create alquran client")
	}
	return &notFoundMapper{Provider: client, notFound: alquran.ErrNotFound}, nil
}

func newSQLiteProvider(settings map[string]any) (Provider, error) {
	var pc SQLiteProviderConfig
	if err := decodeSettings(settings, &pc); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("sqlite provider config: %+v", pc)

	store, err := cache.Open(pc.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open content cache")
	}
	return &cachingProvider{
		notFoundMapper: notFoundMapper{Provider: store, notFound: cache.ErrNotFound},
		store:          store,
	}, nil
}

// notFoundMapper marks a provider's own not-found error with ErrNotFound.
type notFoundMapper struct {
	Provider
	notFound error
}

func (m *notFoundMapper) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	chapters, err := m.Provider.Chapters(ctx)
	return chapters, m.mark(err)
}

func (m *notFoundMapper) Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error) {
	text, err := m.Provider.Edition(ctx, chapter, edition)
	return text, m.mark(err)
}

func (m *notFoundMapper) mark(err error) error {
	if err != nil && errors.Is(err, m.notFound) {
		return errors.Mark(err, ErrNotFound)
	}
	return err
}

// cachingProvider is a notFoundMapper that also accepts write-back.
type cachingProvider struct {
	notFoundMapper
	store *cache.Store
}

func (c *cachingProvider) PutChapters(ctx context.Context, chapters []verse.Chapter) error {
	return c.store.PutChapters(ctx, chapters)
}

func (c *cachingProvider) PutEdition(ctx context.Context, text *verse.EditionText) error {
	return c.store.PutEdition(ctx, text)
}

func (c *cachingProvider) Close() error {
	return c.store.Close()
}

func closeProviders(providers []ProviderWithMetadata) {
	for _, pm := range providers {
		if cl, ok := pm.Provider.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				zlog.Warn().Msgf("failed to close provider: provider=%s error=%v", pm.DisplayName, err)
			}
		}
	}
}
