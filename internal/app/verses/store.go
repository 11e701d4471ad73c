// Package verses holds the verse sequence of the selected chapter/reciter pair.
package verses

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/domain/verse"
)

// ErrFetchFailed marks every failure to build a session from the provider.
var ErrFetchFailed = errors.New("failed to fetch verses")

// Source is the content the store reads from.
type Source interface {
	Chapters(ctx context.Context) ([]verse.Chapter, error)
	Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error)
}

// Store holds the current session and fetches new ones.
type Store struct {
	source      Source
	translation string

	mu       sync.RWMutex
	current  *playback.Session
	chapters []verse.Chapter
}

// NewStore creates a new Store. translation is the translation edition id.
func NewStore(source Source, translation string) *Store {
	return &Store{
		source:      source,
		translation: translation,
	}
}

// Fetch builds a session for sel without installing it.
// The reciter edition and the translation edition are zipped by index.
func (s *Store) Fetch(ctx context.Context, sel verse.Selection) (*playback.Session, error) {
	if !verse.ValidChapter(sel.ChapterID) {
		return nil, errors.Mark(errors.Newf("invalid chapter: %d", sel.ChapterID), ErrFetchFailed)
	}
	if strings.TrimSpace(sel.ReciterID) == "" {
		return nil, errors.Mark(errors.New("reciter is required"), ErrFetchFailed)
	}

	recitation, err := s.source.Edition(ctx, sel.ChapterID, sel.ReciterID)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "fetch %s chapter %d", sel.ReciterID, sel.ChapterID), ErrFetchFailed)
	}
	if recitation == nil || len(recitation.Ayahs) == 0 {
		return nil, errors.Mark(errors.Newf("edition %s chapter %d has no verses", sel.ReciterID, sel.ChapterID), ErrFetchFailed)
	}

	translation, err := s.source.Edition(ctx, sel.ChapterID, s.translation)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "fetch %s chapter %d", s.translation, sel.ChapterID), ErrFetchFailed)
	}

	list := zip(recitation.Ayahs, translation.Ayahs)
	if len(translation.Ayahs) != len(recitation.Ayahs) {
		zlog.Warn().Msgf("translation length mismatch: chapter=%d verses=%d translations=%d",
			sel.ChapterID, len(recitation.Ayahs), len(translation.Ayahs))
	}

	session, err := playback.NewSession(sel, list)
	if err != nil {
		return nil, errors.Mark(err, ErrFetchFailed)
	}
	zlog.Debug().Msgf("fetched session: id=%s chapter=%d reciter=%s verses=%d per_verse_audio=%t",
		session.ID(), sel.ChapterID, sel.ReciterID, session.Len(), session.PerVerseAudio())
	return session, nil
}

// Commit installs session as the current one.
func (s *Store) Commit(session *playback.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session
}

// Load fetches and installs a session. A failure leaves the current session untouched.
func (s *Store) Load(ctx context.Context, sel verse.Selection) (*playback.Session, error) {
	session, err := s.Fetch(ctx, sel)
	if err != nil {
		return nil, err
	}
	s.Commit(session)
	return session, nil
}

// Current returns the current session, or nil before the first load.
func (s *Store) Current() *playback.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Chapters returns the chapter metadata list. A successful result is kept for
// the lifetime of the store.
func (s *Store) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	s.mu.RLock()
	cached := s.chapters
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	chapters, err := s.source.Chapters(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "fetch chapters"), ErrFetchFailed)
	}

	s.mu.Lock()
	s.chapters = chapters
	s.mu.Unlock()
	return chapters, nil
}

// zip pairs verses with translations by index. Missing translations are empty.
func zip(ayahs, translations []verse.Ayah) []verse.Verse {
	list := make([]verse.Verse, 0, len(ayahs))
	for i, a := range ayahs {
		v := verse.Verse{
			Ordinal:     a.NumberInChapter,
			Text:        norm.NFC.String(strings.TrimSpace(a.Text)),
			AudioSource: strings.TrimSpace(a.Audio),
		}
		if i < len(translations) {
			v.Translation = norm.NFC.String(strings.TrimSpace(translations[i].Text))
		}
		list = append(list, v)
	}
	return list
}
