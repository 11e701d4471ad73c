// Package cache provides an SQLite-backed offline copy of chapter metadata and
// chapter editions.
package cache

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tilawa/internal/domain/verse"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when the cache holds no entry for a request.
var ErrNotFound = errors.New("cache: not found")

// Store is the SQLite content cache.
type Store struct {
	db *sqlx.DB
}

type chapterRow struct {
	Number             int    `db:"number"`
	Name               string `db:"name"`
	EnglishName        string `db:"english_name"`
	EnglishTranslation string `db:"english_translation"`
	AyahCount          int    `db:"ayah_count"`
	RevelationType     string `db:"revelation_type"`
	CachedAt           string `db:"cached_at"`
}

type ayahRow struct {
	Chapter         int    `db:"chapter"`
	Edition         string `db:"edition"`
	NumberInChapter int    `db:"number_in_chapter"`
	Text            string `db:"text"`
	Audio           string `db:"audio"`
	CachedAt        string `db:"cached_at"`
}

// Open opens (or creates) the cache database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create cache directory %s", dir)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec pragma %q", pragma)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "exec schema")
	}

	zlog.Debug().Msgf("content cache opened: path=%s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name returns the provider name.
func (s *Store) Name() string {
	return "sqlite"
}

// Chapters returns the cached chapter list in canonical order.
func (s *Store) Chapters(ctx context.Context) ([]verse.Chapter, error) {
	var rows []chapterRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT number, name, english_name, english_translation, ayah_count, revelation_type, cached_at
		 FROM chapters ORDER BY number`)
	if err != nil {
		return nil, errors.Wrap(err, "select chapters")
	}
	if len(rows) < verse.ChapterCount {
		return nil, errors.Wrapf(ErrNotFound, "chapters (cached %d)", len(rows))
	}

	chapters := make([]verse.Chapter, 0, len(rows))
	for _, r := range rows {
		chapters = append(chapters, verse.Chapter{
			Number:             r.Number,
			Name:               r.Name,
			EnglishName:        r.EnglishName,
			EnglishTranslation: r.EnglishTranslation,
			AyahCount:          r.AyahCount,
			RevelationType:     r.RevelationType,
		})
	}
	return chapters, nil
}

// Edition returns a cached chapter edition.
func (s *Store) Edition(ctx context.Context, chapter int, edition string) (*verse.EditionText, error) {
	var rows []ayahRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chapter, edition, number_in_chapter, text, audio, cached_at
		 FROM edition_ayahs WHERE chapter = ? AND edition = ? ORDER BY number_in_chapter`,
		chapter, edition)
	if err != nil {
		return nil, errors.Wrap(err, "select edition")
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "edition %s chapter %d", edition, chapter)
	}

	text := &verse.EditionText{
		Chapter: chapter,
		Edition: edition,
		Ayahs:   make([]verse.Ayah, 0, len(rows)),
	}
	for _, r := range rows {
		text.Ayahs = append(text.Ayahs, verse.Ayah{
			NumberInChapter: r.NumberInChapter,
			Text:            r.Text,
			Audio:           r.Audio,
		})
	}
	return text, nil
}

// PutChapters replaces the cached chapter metadata.
func (s *Store) PutChapters(ctx context.Context, chapters []verse.Chapter) error {
	now := formatTime(time.Now())
	rows := make([]chapterRow, 0, len(chapters))
	for _, ch := range chapters {
		rows = append(rows, chapterRow{
			Number:             ch.Number,
			Name:               ch.Name,
			EnglishName:        ch.EnglishName,
			EnglishTranslation: ch.EnglishTranslation,
			AyahCount:          ch.AyahCount,
			RevelationType:     ch.RevelationType,
			CachedAt:           now,
		})
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range rows {
			if _, err := tx.NamedExecContext(ctx,
				`INSERT OR REPLACE INTO chapters
				 (number, name, english_name, english_translation, ayah_count, revelation_type, cached_at)
				 VALUES (:number, :name, :english_name, :english_translation, :ayah_count, :revelation_type, :cached_at)`,
				r); err != nil {
				return errors.Wrapf(err, "insert chapter %d", r.Number)
			}
		}
		return nil
	})
}

// PutEdition replaces the cached ayahs of one chapter edition.
func (s *Store) PutEdition(ctx context.Context, text *verse.EditionText) error {
	if text == nil || len(text.Ayahs) == 0 {
		return nil
	}
	now := formatTime(time.Now())

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM edition_ayahs WHERE chapter = ? AND edition = ?`,
			text.Chapter, text.Edition); err != nil {
			return errors.Wrap(err, "delete edition")
		}
		for _, a := range text.Ayahs {
			row := ayahRow{
				Chapter:         text.Chapter,
				Edition:         text.Edition,
				NumberInChapter: a.NumberInChapter,
				Text:            a.Text,
				Audio:           a.Audio,
				CachedAt:        now,
			}
			if _, err := tx.NamedExecContext(ctx,
				`INSERT INTO edition_ayahs (chapter, edition, number_in_chapter, text, audio, cached_at)
				 VALUES (:chapter, :edition, :number_in_chapter, :text, :audio, :cached_at)`,
				row); err != nil {
				return errors.Wrapf(err, "insert ayah %d", a.NumberInChapter)
			}
		}
		zlog.Debug().Msgf("cached edition: chapter=%d edition=%s ayahs=%d", text.Chapter, text.Edition, len(text.Ayahs))
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
