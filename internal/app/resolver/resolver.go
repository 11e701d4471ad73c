// Package resolver decides which audio source plays a verse.
package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/osa030/tilawa/internal/domain/verse"
)

// DefaultTemplate is the whole-chapter CDN URL template.
const DefaultTemplate = "https://cdn.islamic.network/quran/audio-surah/128/{reciter}/{number}.mp3"

// Scope tells how much of the chapter an AudioReference covers.
type Scope int

const (
	ScopeVerse   Scope = iota // Reference plays a single verse
	ScopeChapter              // Reference plays the entire chapter
)

// String returns the string representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeVerse:
		return "verse"
	case ScopeChapter:
		return "chapter"
	default:
		return "unknown"
	}
}

// AudioReference is a playable source for a verse.
type AudioReference struct {
	URL   string
	Scope Scope
}

// Config holds resolver configuration.
type Config struct {
	Template      string // URL template with {reciter}, {chapter} and {number}
	PadWidth      int    // Zero-padding width for {chapter}
	ReciterPrefix string // Namespace prefix stripped from reciter ids
}

// Resolver maps verses to audio references.
type Resolver struct {
	config Config
}

// New creates a resolver, filling unset fields with defaults.
func New(cfg Config) *Resolver {
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.PadWidth <= 0 {
		cfg.PadWidth = 3
	}
	if cfg.ReciterPrefix == "" {
		cfg.ReciterPrefix = "ar."
	}
	return &Resolver{config: cfg}
}

// Resolve returns the verse's own audio when present, otherwise the
// whole-chapter fallback for the reciter.
func (r *Resolver) Resolve(v verse.Verse, reciterID string, chapterID int) AudioReference {
	if v.HasAudio() {
		return AudioReference{URL: strings.TrimSpace(v.AudioSource), Scope: ScopeVerse}
	}
	return AudioReference{URL: r.ChapterURL(reciterID, chapterID), Scope: ScopeChapter}
}

// ChapterURL builds the fallback URL for a whole chapter.
func (r *Resolver) ChapterURL(reciterID string, chapterID int) string {
	replacer := strings.NewReplacer(
		"{reciter}", r.Slug(reciterID),
		"{chapter}", fmt.Sprintf("%0*d", r.config.PadWidth, chapterID),
		"{number}", strconv.Itoa(chapterID),
	)
	return replacer.Replace(r.config.Template)
}

// Slug derives the CDN reciter slug from an edition id. This is a
// best-effort mapping: "ar.alafasy" becomes "alafasy".
func (r *Resolver) Slug(reciterID string) string {
	id := strings.TrimSpace(reciterID)
	if strings.HasPrefix(id, r.config.ReciterPrefix) {
		return strings.TrimPrefix(id, r.config.ReciterPrefix)
	}
	if i := strings.Index(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}
