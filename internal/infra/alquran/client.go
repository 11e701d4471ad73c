// Package alquran provides a client for the api.alquran.cloud content API.
package alquran

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/osa030/tilawa/internal/domain/verse"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.alquran.cloud/v1"

// ErrNotFound is returned when the API has no such chapter or edition.
var ErrNotFound = errors.New("alquran: not found")

// Client is an api.alquran.cloud client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// Cache for the chapter list
	chapters []verse.Chapter
	cacheMu  sync.RWMutex
}

// Config represents client configuration.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// envelope is the common response wrapper.
type envelope struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// chapterResponse represents one entry of GET /surah.
type chapterResponse struct {
	Number                 int    `json:"number"`
	Name                   string `json:"name"`
	EnglishName            string `json:"englishName"`
	EnglishNameTranslation string `json:"englishNameTranslation"`
	NumberOfAyahs          int    `json:"numberOfAyahs"`
	RevelationType         string `json:"revelationType"`
}

// editionResponse represents the data of GET /surah/{n}/{edition}.
type editionResponse struct {
	Number int `json:"number"`
	Ayahs  []struct {
		Number        int    `json:"number"`
		Audio         string `json:"audio"`
		Text          string `json:"text"`
		NumberInSurah int    `json:"numberInSurah"`
	} `json:"ayahs"`
	Edition struct {
		Identifier string `json:"identifier"`
		Format     string `json:"format"`
		Type       string `json:"type"`
	} `json:"edition"`
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "invalid base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "alquran"
}

// Chapters retrieves the chapter metadata list.
// Reference: https://alquran.cloud/api (Surah endpoint)
func (c *Client) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	c.cacheMu.RLock()
	if c.chapters != nil {
		chapters := c.chapters
		c.cacheMu.RUnlock()
		zlog.Debug().Msg("using cached chapter list")
		return chapters, nil
	}
	c.cacheMu.RUnlock()

	data, err := c.get(ctx, "/surah")
	if err != nil {
		return nil, err
	}

	var response []chapterResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse chapter list")
	}

	chapters := make([]verse.Chapter, 0, len(response))
	for _, ch := range response {
		chapters = append(chapters, verse.Chapter{
			Number:             ch.Number,
			Name:               norm.NFC.String(ch.Name),
			EnglishName:        ch.EnglishName,
			EnglishTranslation: ch.EnglishNameTranslation,
			AyahCount:          ch.NumberOfAyahs,
			RevelationType:     ch.RevelationType,
		})
	}

	c.cacheMu.Lock()
	c.chapters = chapters
	c.cacheMu.Unlock()
	zlog.Debug().Msgf("cached chapter list (count: %d)", len(chapters))

	return chapters, nil
}

// Edition retrieves one chapter in one edition. Audio editions carry a
// per-verse audio URL on every ayah; text editions carry none.
func (c *Client) Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error) {
	if !verse.ValidChapter(chapter) {
		return nil, errors.Newf("invalid chapter number: %d", chapter)
	}
	if edition == "" {
		return nil, errors.New("edition is required")
	}

	data, err := c.get(ctx, fmt.Sprintf("/surah/%d/%s", chapter, url.PathEscape(edition)))
	if err != nil {
		return nil, err
	}

	var response editionResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse edition")
	}

	text := &verse.EditionText{
		Chapter: chapter,
		Edition: edition,
		Ayahs:   make([]verse.Ayah, 0, len(response.Ayahs)),
	}
	for _, a := range response.Ayahs {
		text.Ayahs = append(text.Ayahs, verse.Ayah{
			NumberInChapter: a.NumberInSurah,
			Text:            norm.NFC.String(a.Text),
			Audio:           strings.TrimSpace(a.Audio),
		})
	}

	return text, nil
}

// get performs a rate-limited GET and returns the envelope data.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrapf(err, "failed to parse response (http %d)", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusNotFound || env.Code == http.StatusNotFound {
		return nil, errors.Wrapf(ErrNotFound, "%s: %s", path, apiMessage(env))
	}
	if resp.StatusCode != http.StatusOK || env.Code != http.StatusOK {
		return nil, errors.Errorf("alquran API error %d: %s", env.Code, apiMessage(env))
	}

	return env.Data, nil
}

// apiMessage extracts the error text the API puts in data.
func apiMessage(env envelope) string {
	var msg string
	if err := json.Unmarshal(env.Data, &msg); err == nil && msg != "" {
		return msg
	}
	return env.Status
}
