// Package verse provides the chapter and verse domain entities.
package verse

import "strings"

// ChapterCount is the number of chapters in the canonical ordering.
const ChapterCount = 114

// Chapter represents chapter metadata returned by the content provider.
type Chapter struct {
	Number             int    // 1-based canonical chapter number
	Name               string // Name in source script
	EnglishName        string // Transliterated name
	EnglishTranslation string // Translated meaning of the name
	AyahCount          int    // Number of verses
	RevelationType     string // "Meccan" or "Medinan"
}

// Ayah is a single verse as returned by one provider edition.
type Ayah struct {
	NumberInChapter int    // Provider-assigned ordinal, display only
	Text            string // Verse text in the edition's script or language
	Audio           string // Per-verse audio URL (empty if the edition has none)
}

// EditionText is the ordered verse list of one chapter in one edition.
type EditionText struct {
	Chapter int    // Chapter number
	Edition string // Edition identifier, e.g. "ar.alafasy" or "id.indonesian"
	Ayahs   []Ayah // Verses in canonical order
}

// Verse is an immutable verse with its translation and optional audio.
type Verse struct {
	Ordinal     int    // Ordinal in chapter (display only)
	Text        string // Source-script text
	Translation string // Translation text (may be empty)
	AudioSource string // Per-verse audio URL (empty if unavailable)
}

// HasAudio reports whether the verse carries its own audio source.
func (v Verse) HasAudio() bool {
	return strings.TrimSpace(v.AudioSource) != ""
}

// Selection identifies a chapter/reciter pair.
type Selection struct {
	ChapterID int
	ReciterID string
}

// ValidChapter reports whether n is a canonical chapter number.
func ValidChapter(n int) bool {
	return n >= 1 && n <= ChapterCount
}
