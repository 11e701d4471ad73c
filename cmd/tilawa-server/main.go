// Package main provides the player server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/tilawa/internal/api/connect"
	"github.com/osa030/tilawa/internal/app/content"
	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/playback"
	"github.com/osa030/tilawa/internal/app/resolver"
	"github.com/osa030/tilawa/internal/app/transport"
	"github.com/osa030/tilawa/internal/app/verses"
	"github.com/osa030/tilawa/internal/infra/audio"
	"github.com/osa030/tilawa/internal/infra/config"
	"github.com/osa030/tilawa/internal/infra/logger"
)

var (
	app        = kingpin.New("tilawa-server", "tilawa recitation player")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	autostart  = app.Flag("autostart", "Fire the START gate on boot").Bool()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the player (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		fmt.Printf("%s: OK (%d content providers)\n", *configPath, len(cfg.Content.Providers))
		return
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Content providers
	chain, err := content.NewChainFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create content providers: %w", err)
	}
	defer chain.Close()

	store := verses.NewStore(chain, cfg.Content.Translation)

	// Audio
	output := audio.NewOutput(audio.OutputConfig{
		SampleRate:      cfg.Audio.SampleRate,
		ResampleQuality: cfg.Audio.ResampleQuality,
	})
	defer output.Close()

	var ambience transport.Ambience
	if cfg.Ambience.File != "" {
		amb := audio.NewAmbience(audio.AmbienceConfig{
			File:            cfg.Ambience.File,
			Volume:          cfg.Ambience.Volume,
			SampleRate:      cfg.Audio.SampleRate,
			ResampleQuality: cfg.Audio.ResampleQuality,
		})
		defer amb.Close()
		ambience = amb
	} else {
		zlog.Info().Msg("Ambience file not configured, ambience toggle disabled")
	}

	// Sequencer and controller
	res := resolver.New(resolver.Config{
		Template:      cfg.Audio.FallbackURLTemplate,
		PadWidth:      cfg.Audio.ChapterPadWidth,
		ReciterPrefix: cfg.Audio.ReciterPrefix,
	})
	seq := playback.NewSequencer(playback.Config{Rate: cfg.Audio.DefaultRate}, res, output)
	defer seq.Close()

	notifier := notification.NewManager()
	defer notifier.Close()

	ctrl := transport.NewController(cfg, seq, store, ambience, notifier)

	go seq.Run(ctx)
	go ctrl.Run(ctx)

	// Create RPC service
	playerService := apiconnect.NewPlayerService(ctrl, notifier, ctx.Done())

	var opts []connect.HandlerOption
	if cfg.Server.Token != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)))
	} else {
		zlog.Warn().Msg("Server token not configured, command surface is unauthenticated")
	}

	// Create HTTP mux
	mux := http.NewServeMux()
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(playerService, opts...)
	mux.Handle(playerPath, playerHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Boot: load the default chapter
	go func() {
		initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
		defer initCancel()
		r := ctrl.Init(initCtx)
		if !r.OK {
			zlog.Warn().Msgf("Initial chapter not loaded: code=%s message=%s", r.Code, r.Message)
		}
		if *autostart {
			ctrl.Start()
		}
	}()

	// Execute startup hook if configured
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
		ctrl.Stop()
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown; cancel first to end open status streams
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
