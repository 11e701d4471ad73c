package alquran

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChapters(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v1/surah", r.URL.Path)

		response := `{
			"code": 200,
			"status": "OK",
			"data": [
				{"number": 1, "name": "سُورَةُ ٱلْفَاتِحَةِ", "englishName": "Al-Faatiha", "englishNameTranslation": "The Opening", "numberOfAyahs": 7, "revelationType": "Meccan"},
				{"number": 2, "name": "سُورَةُ البَقَرَةِ", "englishName": "Al-Baqara", "englishNameTranslation": "The Cow", "numberOfAyahs": 286, "revelationType": "Medinan"}
			]
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	ctx := context.Background()
	chapters, err := client.Chapters(ctx)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].Number)
	assert.Equal(t, "Al-Faatiha", chapters[0].EnglishName)
	assert.Equal(t, 286, chapters[1].AyahCount)
	assert.Equal(t, "Medinan", chapters[1].RevelationType)

	// Test Caching
	cached, err := client.Chapters(ctx)
	require.NoError(t, err)
	assert.Equal(t, chapters, cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEdition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/surah/1/ar.alafasy", r.URL.Path)

		response := `{
			"code": 200,
			"status": "OK",
			"data": {
				"number": 1,
				"ayahs": [
					{"number": 1, "audio": "https://cdn.islamic.network/quran/audio/128/ar.alafasy/1.mp3", "text": "بِسْمِ ٱللَّهِ", "numberInSurah": 1},
					{"number": 2, "audio": "https://cdn.islamic.network/quran/audio/128/ar.alafasy/2.mp3", "text": "ٱلْحَمْدُ لِلَّهِ", "numberInSurah": 2}
				],
				"edition": {"identifier": "ar.alafasy", "format": "audio", "type": "versebyverse"}
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/v1/"})
	require.NoError(t, err)

	text, err := client.Edition(context.Background(), 1, "ar.alafasy")
	require.NoError(t, err)
	assert.Equal(t, 1, text.Chapter)
	assert.Equal(t, "ar.alafasy", text.Edition)
	require.Len(t, text.Ayahs, 2)
	assert.Equal(t, 2, text.Ayahs[1].NumberInChapter)
	assert.Equal(t, "https://cdn.islamic.network/quran/audio/128/ar.alafasy/2.mp3", text.Ayahs[1].Audio)
}

func TestEdition_TextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := `{
			"code": 200,
			"status": "OK",
			"data": {
				"number": 112,
				"ayahs": [
					{"number": 6222, "text": "Katakanlah: Dialah Allah, Yang Maha Esa.", "numberInSurah": 1}
				],
				"edition": {"identifier": "id.indonesian", "format": "text", "type": "translation"}
			}
		}`
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	text, err := client.Edition(context.Background(), 112, "id.indonesian")
	require.NoError(t, err)
	require.Len(t, text.Ayahs, 1)
	assert.Empty(t, text.Ayahs[0].Audio)
	assert.Equal(t, "Katakanlah: Dialah Allah, Yang Maha Esa.", text.Ayahs[0].Text)
}

func TestEdition_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/surah/1/xx.missing":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code": 404, "status": "NOT FOUND", "data": "Edition not found"}`)
		case "/surah/1/broken":
			fmt.Fprint(w, `<html>bad gateway</html>`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code": 500, "status": "ERROR", "data": "internal"}`)
		}
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Edition(ctx, 1, "xx.missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "Edition not found")

	_, err = client.Edition(ctx, 1, "broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = client.Edition(ctx, 1, "ar.other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	_, err = client.Edition(ctx, 0, "ar.alafasy")
	assert.Error(t, err)
}
