package content

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tilawa/internal/domain/verse"
	"github.com/osa030/tilawa/internal/infra/config"
)

type fakeProvider struct {
	name     string
	chapters []verse.Chapter
	editions map[string]*verse.EditionText
	err      error
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chapters, nil
}

func (f *fakeProvider) Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	text, ok := f.editions[edition]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, edition)
	}
	return text, nil
}

type fakeWriter struct {
	fakeProvider
	putChapters []verse.Chapter
	putEditions []*verse.EditionText
}

func (f *fakeWriter) PutChapters(ctx context.Context, chapters []verse.Chapter) error {
	f.putChapters = chapters
	return nil
}

func (f *fakeWriter) PutEdition(ctx context.Context, text *verse.EditionText) error {
	f.putEditions = append(f.putEditions, text)
	return nil
}

func alafasy() *verse.EditionText {
	return &verse.EditionText{
		Chapter: 1,
		Edition: "ar.alafasy",
		Ayahs:   []verse.Ayah{{NumberInChapter: 1, Text: "a", Audio: "https://a/1.mp3"}},
	}
}

func TestProviderChain_Edition(t *testing.T) {
	ctx := context.Background()

	t.Run("first provider serves", func(t *testing.T) {
		first := &fakeProvider{name: "first", editions: map[string]*verse.EditionText{"ar.alafasy": alafasy()}}
		second := &fakeProvider{name: "second"}
		chain := NewProviderChain([]ProviderWithMetadata{{Provider: first}, {Provider: second}})

		text, err := chain.Edition(ctx, 1, "ar.alafasy")
		require.NoError(t, err)
		assert.Len(t, text.Ayahs, 1)
		assert.Equal(t, 0, second.calls)
	})

	t.Run("miss falls through and writes back", func(t *testing.T) {
		cacheP := &fakeWriter{fakeProvider: fakeProvider{name: "cache"}}
		remote := &fakeProvider{name: "remote", editions: map[string]*verse.EditionText{"ar.alafasy": alafasy()}}
		chain := NewProviderChain([]ProviderWithMetadata{
			{Provider: cacheP, DisplayName: "cache"},
			{Provider: remote, DisplayName: "remote"},
		})

		text, err := chain.Edition(ctx, 1, "ar.alafasy")
		require.NoError(t, err)
		assert.Equal(t, "ar.alafasy", text.Edition)
		require.Len(t, cacheP.putEditions, 1)
		assert.Equal(t, text, cacheP.putEditions[0])
	})

	t.Run("failure falls through", func(t *testing.T) {
		broken := &fakeProvider{name: "broken", err: errors.New("connection refused")}
		remote := &fakeProvider{name: "remote", editions: map[string]*verse.EditionText{"ar.alafasy": alafasy()}}
		chain := NewProviderChain([]ProviderWithMetadata{{Provider: broken}, {Provider: remote}})

		_, err := chain.Edition(ctx, 1, "ar.alafasy")
		require.NoError(t, err)
	})

	t.Run("empty result is skipped", func(t *testing.T) {
		empty := &fakeProvider{name: "empty", editions: map[string]*verse.EditionText{"ar.alafasy": {Chapter: 1}}}
		chain := NewProviderChain([]ProviderWithMetadata{{Provider: empty}})

		_, err := chain.Edition(ctx, 1, "ar.alafasy")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("all fail", func(t *testing.T) {
		broken := &fakeProvider{name: "broken", err: errors.New("timeout")}
		chain := NewProviderChain([]ProviderWithMetadata{{Provider: broken}})

		_, err := chain.Edition(ctx, 1, "ar.alafasy")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})
}

func TestProviderChain_Chapters(t *testing.T) {
	ctx := context.Background()
	chapters := []verse.Chapter{{Number: 1, EnglishName: "Al-Faatiha", AyahCount: 7}}

	cacheP := &fakeWriter{fakeProvider: fakeProvider{name: "cache", err: errors.Wrap(ErrNotFound, "chapters")}}
	remote := &fakeProvider{name: "remote", chapters: chapters}
	chain := NewProviderChain([]ProviderWithMetadata{{Provider: cacheP}, {Provider: remote}})

	got, err := chain.Chapters(ctx)
	require.NoError(t, err)
	assert.Equal(t, chapters, got)
	assert.Equal(t, chapters, cacheP.putChapters)
	assert.Equal(t, "provider_chain", chain.Name())
}

func TestNewChainFromConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tilawa.db")

	t.Run("sqlite then alquran", func(t *testing.T) {
		cfg := &config.Config{Content: config.ContentConfig{Providers: []config.ProviderConfig{
			{Type: "sqlite", DisplayName: "offline", Settings: map[string]any{"path": dbPath}},
			{Type: "alquran", DisplayName: "alquran.cloud", Settings: map[string]any{"requests_per_second": 2.5}},
		}}}

		chain, err := NewChainFromConfig(cfg)
		require.NoError(t, err)
		defer chain.Close()

		require.Len(t, chain.providers, 2)
		_, isWriter := chain.providers[0].Provider.(Writer)
		assert.True(t, isWriter)
		_, isWriter = chain.providers[1].Provider.(Writer)
		assert.False(t, isWriter)
		assert.Equal(t, "sqlite", chain.providers[0].Provider.Name())
		assert.Equal(t, "alquran", chain.providers[1].Provider.Name())

		// The empty cache reports a miss that the chain recognises.
		_, err = chain.providers[0].Provider.Edition(context.Background(), 1, "ar.alafasy")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("invalid settings", func(t *testing.T) {
		cfg := &config.Config{Content: config.ContentConfig{Providers: []config.ProviderConfig{
			{Type: "alquran", DisplayName: "bad", Settings: map[string]any{"base_url": "not a url"}},
		}}}
		_, err := NewChainFromConfig(cfg)
		assert.Error(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		cfg := &config.Config{Content: config.ContentConfig{Providers: []config.ProviderConfig{
			{Type: "ftp", DisplayName: "x"},
		}}}
		_, err := NewChainFromConfig(cfg)
		assert.Error(t, err)
	})

	t.Run("no providers", func(t *testing.T) {
		_, err := NewChainFromConfig(&config.Config{})
		assert.Error(t, err)
	})
}
