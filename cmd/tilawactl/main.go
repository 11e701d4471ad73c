// Package main provides the command-line remote for the player server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/tilawa/internal/api/connect"
)

var (
	app       = kingpin.New("tilawactl", "tilawa remote control")
	serverURL = app.Flag("server", "Server URL").Default("http://localhost:8080").String()
	token     = app.Flag("token", "Command token").Envar("TILAWA_TOKEN").String()
	timeout   = app.Flag("timeout", "Request timeout").Default("30s").Duration()

	startCmd    = app.Command("start", "Fire the START gate")
	playCmd     = app.Command("play", "Play or resume the current verse")
	pauseCmd    = app.Command("pause", "Pause playback")
	stopCmd     = app.Command("stop", "Stop playback")
	nextCmd     = app.Command("next", "Move to the next verse")
	previousCmd = app.Command("previous", "Move to the previous verse")

	rateCmd   = app.Command("rate", "Set the playback rate")
	rateValue = rateCmd.Arg("rate", "Playback rate (e.g. 1.25)").Required().Float64()

	seekCmd   = app.Command("seek", "Play a verse by its number in the chapter")
	seekVerse = seekCmd.Arg("verse", "Verse number (1-based)").Required().Int()

	chapterCmd   = app.Command("chapter", "Select a chapter")
	chapterValue = chapterCmd.Arg("number", "Chapter number (1-114)").Required().Int()

	reciterCmd   = app.Command("reciter", "Select a reciter")
	reciterValue = reciterCmd.Arg("id", "Reciter edition id (e.g. ar.alafasy)").Required().String()

	ambienceCmd = app.Command("ambience", "Toggle the ambience layer")
	statusCmd   = app.Command("status", "Show player status")
	chaptersCmd = app.Command("chapters", "List chapters")
	watchCmd    = app.Command("watch", "Stream status notifications")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *serverURL, *token)

	if command == watchCmd.FullCommand() {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := watch(ctx, client); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		procedure string
		args      map[string]any
	)
	switch command {
	case startCmd.FullCommand():
		procedure = apiconnect.PlayerServiceStartProcedure
	case playCmd.FullCommand():
		procedure = apiconnect.PlayerServicePlayProcedure
	case pauseCmd.FullCommand():
		procedure = apiconnect.PlayerServicePauseProcedure
	case stopCmd.FullCommand():
		procedure = apiconnect.PlayerServiceStopProcedure
	case nextCmd.FullCommand():
		procedure = apiconnect.PlayerServiceNextProcedure
	case previousCmd.FullCommand():
		procedure = apiconnect.PlayerServicePreviousProcedure
	case rateCmd.FullCommand():
		procedure = apiconnect.PlayerServiceSetRateProcedure
		args = map[string]any{"rate": *rateValue}
	case seekCmd.FullCommand():
		procedure = apiconnect.PlayerServiceSeekProcedure
		args = map[string]any{"index": *seekVerse - 1}
	case chapterCmd.FullCommand():
		procedure = apiconnect.PlayerServiceSelectChapterProcedure
		args = map[string]any{"chapter": *chapterValue}
	case reciterCmd.FullCommand():
		procedure = apiconnect.PlayerServiceSelectReciterProcedure
		args = map[string]any{"reciter": *reciterValue}
	case ambienceCmd.FullCommand():
		procedure = apiconnect.PlayerServiceToggleAmbienceProcedure
	case statusCmd.FullCommand():
		procedure = apiconnect.PlayerServiceGetStatusProcedure
	case chaptersCmd.FullCommand():
		procedure = apiconnect.PlayerServiceListChaptersProcedure
	}

	if args == nil {
		args = map[string]any{}
	}
	resp, err := client.Call(ctx, procedure, args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ok := printResult(resp)
	if chapters, found := resp["chapters"].([]any); found {
		printChapters(chapters)
	}
	if status, found := resp["status"].(map[string]any); found {
		printStatus(status)
	}
	if !ok {
		os.Exit(1)
	}
}

// printResult prints the command result and reports whether it succeeded.
// Responses without a result (GetStatus) count as success.
func printResult(resp map[string]any) bool {
	result, found := resp["result"].(map[string]any)
	if !found {
		return true
	}
	ok, _ := result["ok"].(bool)
	if ok {
		fmt.Printf("%v\n", result["message"])
	} else {
		fmt.Printf("Error [%v]: %v\n", result["code"], result["message"])
	}
	return ok
}

func printStatus(status map[string]any) {
	fmt.Printf("State:    %v (started: %v)\n", status["state"], status["started"])
	fmt.Printf("Chapter:  %v  Reciter: %v\n", number(status["chapter"]), status["reciter"])
	if loading, _ := status["loading"].(bool); loading {
		fmt.Printf("Loading:  chapter %v, reciter %v\n", number(status["requested_chapter"]), status["requested_reciter"])
	}
	count := number(status["count"])
	if count > 0 {
		fmt.Printf("Verse:    %d / %d\n", number(status["index"])+1, count)
	}
	fmt.Printf("Rate:     %.2fx  Per-verse audio: %v  Ambience: %v\n", status["rate"], status["per_verse_audio"], status["ambience"])
	if text, _ := status["text"].(string); text != "" {
		fmt.Printf("\n  %s\n", text)
		if tr, _ := status["translation"].(string); tr != "" {
			fmt.Printf("  %s\n", tr)
		}
	}
	if lastErr, _ := status["last_error"].(string); lastErr != "" {
		fmt.Printf("Last error: %s\n", lastErr)
	}
}

func printChapters(chapters []any) {
	for _, c := range chapters {
		ch, ok := c.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("%3d  %-18v %-28v %3d verses  %v\n",
			number(ch["number"]), ch["english_name"], ch["english_translation"], number(ch["ayah_count"]), ch["revelation_type"])
	}
}

func watch(ctx context.Context, client *apiconnect.Client) error {
	fmt.Printf("Watching %s (Ctrl+C to exit)\n", *serverURL)
	return client.Subscribe(ctx, func(n map[string]any) bool {
		ts := time.Now().Format("15:04:05")
		if raw, ok := n["time"].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				ts = t.Local().Format("15:04:05")
			}
		}
		fmt.Printf("[%s] #%d %-10v %v\n", ts, number(n["sequence_no"]), n["state"], n["message"])
		return true
	})
}

// number converts a Struct number value to int.
func number(v any) int {
	f, _ := v.(float64)
	return int(f)
}
