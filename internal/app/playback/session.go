package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/osa030/tilawa/internal/domain/verse"
)

// Session is the verse sequence of one chapter/reciter selection.
// It is immutable once created.
type Session struct {
	id            string
	selection     verse.Selection
	verses        []verse.Verse
	perVerseAudio bool
	loadedAt      time.Time
}

// NewSession creates a session. perVerseAudio is computed here, once.
func NewSession(sel verse.Selection, verses []verse.Verse) (*Session, error) {
	if len(verses) == 0 {
		return nil, ErrEmptySession
	}

	copied := make([]verse.Verse, len(verses))
	copy(copied, verses)

	perVerse := false
	for _, v := range copied {
		if v.HasAudio() {
			perVerse = true
			break
		}
	}

	return &Session{
		id:            uuid.New().String(),
		selection:     sel,
		verses:        copied,
		perVerseAudio: perVerse,
		loadedAt:      time.Now(),
	}, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Selection returns the chapter/reciter pair.
func (s *Session) Selection() verse.Selection { return s.selection }

// Len returns the number of verses.
func (s *Session) Len() int { return len(s.verses) }

// PerVerseAudio reports whether at least one verse has its own audio.
func (s *Session) PerVerseAudio() bool { return s.perVerseAudio }

// LoadedAt returns when the session was created.
func (s *Session) LoadedAt() time.Time { return s.loadedAt }

// Verse returns the verse at index i.
func (s *Session) Verse(i int) (verse.Verse, bool) {
	if i < 0 || i >= len(s.verses) {
		return verse.Verse{}, false
	}
	return s.verses[i], true
}

// Verses returns a copy of the verse sequence.
func (s *Session) Verses() []verse.Verse {
	result := make([]verse.Verse, len(s.verses))
	copy(result, s.verses)
	return result
}
