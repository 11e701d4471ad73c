// Package config provides configuration loading from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// TokenHeader is the request header carrying the command surface token.
const TokenHeader = "X-Tilawa-Token"

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Content  ContentConfig  `yaml:"content"`
	Audio    AudioConfig    `yaml:"audio"`
	Ambience AmbienceConfig `yaml:"ambience"`
	Messages MessagesConfig `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Token string      `yaml:"token"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// ContentConfig represents chapter content configuration.
type ContentConfig struct {
	Translation    string           `yaml:"translation" default:"id.indonesian" validate:"required"`
	DefaultChapter int              `yaml:"default_chapter" default:"1" validate:"gte=1,lte=114"`
	DefaultReciter string           `yaml:"default_reciter" default:"ar.alafasy" validate:"required"`
	Reciters       []string         `yaml:"reciters"`
	Providers      []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig represents a single content provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=alquran sqlite"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// AudioConfig represents audio source and output configuration.
type AudioConfig struct {
	FallbackURLTemplate string  `yaml:"fallback_url_template" default:"https://cdn.islamic.network/quran/audio-surah/128/{reciter}/{number}.mp3" validate:"required"`
	ChapterPadWidth     int     `yaml:"chapter_pad_width" default:"3" validate:"gte=1,lte=6"`
	ReciterPrefix       string  `yaml:"reciter_prefix" default:"ar."`
	DefaultRate         float64 `yaml:"default_rate" default:"1.0" validate:"gt=0,lte=4"`
	SampleRate          int     `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	ResampleQuality     int     `yaml:"resample_quality" default:"4" validate:"gte=1,lte=64"`
}

// AmbienceConfig represents the ambience loop configuration.
type AmbienceConfig struct {
	File   string  `yaml:"file"`
	Volume float64 `yaml:"volume" default:"0.12" validate:"gt=0,lte=1"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	Success             string `yaml:"success" default:"OK"`
	DefaultError        string `yaml:"default_error" default:"Something went wrong"`
	NotStarted          string `yaml:"not_started" default:"Press START first"`
	AlreadyStarted      string `yaml:"already_started" default:"Already started"`
	NoSession           string `yaml:"no_session" default:"No chapter loaded"`
	PlayPending         string `yaml:"play_pending" default:"Playback is starting"`
	NotPlaying          string `yaml:"not_playing" default:"Nothing is playing"`
	InvalidRate         string `yaml:"invalid_rate" default:"Playback rate must be greater than zero"`
	InvalidChapter      string `yaml:"invalid_chapter" default:"Chapter must be between 1 and 114"`
	UnknownReciter      string `yaml:"unknown_reciter" default:"Unknown reciter"`
	FetchFailed         string `yaml:"fetch_failed" default:"Failed to load chapter"`
	PlaybackRejected    string `yaml:"playback_rejected" default:"Audio could not be played"`
	AtBoundary          string `yaml:"at_boundary" default:"No more verses in that direction"`
	AmbienceUnavailable string `yaml:"ambience_unavailable" default:"Ambience is not available"`
	Superseded          string `yaml:"superseded" default:"Selection changed before loading finished"`

	// Status lines. Verbs are filled by the transport controller.
	Loading         string `yaml:"loading" default:"Loading chapter %d (%s)..."`
	LoadedPerVerse  string `yaml:"loaded_per_verse" default:"Chapter %d ready: %d verses with per-verse audio"`
	LoadedFallback  string `yaml:"loaded_fallback" default:"Chapter %d ready: %d verses, whole-chapter audio only"`
	VerseStarted    string `yaml:"verse_started" default:"Playing verse %d"`
	FallbackStarted string `yaml:"fallback_started" default:"Playing the whole chapter"`
	Paused          string `yaml:"paused" default:"Paused at verse %d"`
	Stopped         string `yaml:"stopped" default:"Stopped"`
	Selected        string `yaml:"selected" default:"Verse %d selected"`
	RateChanged     string `yaml:"rate_changed" default:"Playback rate %.2fx"`
	ChapterEnded    string `yaml:"chapter_ended" default:"Chapter finished"`
	FallbackEnded   string `yaml:"fallback_ended" default:"Chapter audio finished"`
	PlaybackFailed  string `yaml:"playback_failed" default:"Playback failed: %s"`
	AmbienceOn      string `yaml:"ambience_on" default:"Ambience on"`
	AmbienceOff     string `yaml:"ambience_off" default:"Ambience off"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("TILAWA_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("TILAWA_CONTENT_BASE_URL"); v != "" {
		for i := range c.Content.Providers {
			if c.Content.Providers[i].Type == "alquran" {
				if c.Content.Providers[i].Settings == nil {
					c.Content.Providers[i].Settings = map[string]any{}
				}
				c.Content.Providers[i].Settings["base_url"] = v
				break
			}
		}
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "ok":
		return c.Messages.Success
	case "not_started":
		return c.Messages.NotStarted
	case "already_started":
		return c.Messages.AlreadyStarted
	case "no_session":
		return c.Messages.NoSession
	case "play_pending":
		return c.Messages.PlayPending
	case "not_playing":
		return c.Messages.NotPlaying
	case "invalid_rate":
		return c.Messages.InvalidRate
	case "invalid_chapter":
		return c.Messages.InvalidChapter
	case "unknown_reciter":
		return c.Messages.UnknownReciter
	case "fetch_failed":
		return c.Messages.FetchFailed
	case "playback_rejected":
		return c.Messages.PlaybackRejected
	case "at_boundary":
		return c.Messages.AtBoundary
	case "ambience_unavailable":
		return c.Messages.AmbienceUnavailable
	case "superseded":
		return c.Messages.Superseded
	case "loading":
		return c.Messages.Loading
	case "loaded_per_verse":
		return c.Messages.LoadedPerVerse
	case "loaded_fallback":
		return c.Messages.LoadedFallback
	case "verse_started":
		return c.Messages.VerseStarted
	case "fallback_started":
		return c.Messages.FallbackStarted
	case "paused":
		return c.Messages.Paused
	case "stopped":
		return c.Messages.Stopped
	case "selected":
		return c.Messages.Selected
	case "rate_changed":
		return c.Messages.RateChanged
	case "chapter_ended":
		return c.Messages.ChapterEnded
	case "fallback_ended":
		return c.Messages.FallbackEnded
	case "playback_failed":
		return c.Messages.PlaybackFailed
	case "ambience_on":
		return c.Messages.AmbienceOn
	case "ambience_off":
		return c.Messages.AmbienceOff
	default:
		return c.Messages.DefaultError
	}
}

// FormatMessage returns the message for the given code with its verbs filled.
func (c *Config) FormatMessage(code string, args ...any) string {
	msg := c.GetMessage(code)
	if len(args) == 0 || !strings.Contains(msg, "%") {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// IsKnownReciter checks if the reciter is allowed.
// An empty allow-list accepts any reciter id.
func (c *Config) IsKnownReciter(reciterID string) bool {
	if strings.TrimSpace(reciterID) == "" {
		return false
	}
	if len(c.Content.Reciters) == 0 {
		return true
	}
	for _, r := range c.Content.Reciters {
		if r == reciterID {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if !c.IsKnownReciter(c.Content.DefaultReciter) {
		return errors.Newf("default_reciter (%s) is not in the reciters list", c.Content.DefaultReciter)
	}
	if !strings.Contains(c.Audio.FallbackURLTemplate, "{chapter}") && !strings.Contains(c.Audio.FallbackURLTemplate, "{number}") {
		return errors.Newf("fallback_url_template (%s) must contain {chapter} or {number}", c.Audio.FallbackURLTemplate)
	}

	return nil
}
