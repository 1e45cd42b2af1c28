package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fankserver/discord-jukebox/internal/api"
	"github.com/fankserver/discord-jukebox/internal/config"
	"github.com/fankserver/discord-jukebox/internal/engine"
	"github.com/fankserver/discord-jukebox/internal/extractor"
	"github.com/fankserver/discord-jukebox/internal/overlay"
	"github.com/fankserver/discord-jukebox/internal/priority"
	"github.com/fankserver/discord-jukebox/internal/queue"
	"github.com/fankserver/discord-jukebox/internal/voice"
)

// gatewayDialer adapts the voice gateway to the engine's dialer
// contract.
type gatewayDialer struct {
	gw *voice.Gateway
}

func (d gatewayDialer) Ready() bool {
	return d.gw.Ready()
}

func (d gatewayDialer) UserVoiceChannel(guildID, userID string) (string, error) {
	return d.gw.UserVoiceChannel(guildID, userID)
}

func (d gatewayDialer) OpenSession(guildID, channelID string) (engine.VoiceSession, error) {
	return d.gw.OpenSession(guildID, channelID)
}

func main() {
	logLevel := flag.String("log-level", "", "log level (trace, debug, info, warn, error), overrides LOG_LEVEL")
	httpAddr := flag.String("http-addr", "", "HTTP listen address, overrides HTTP_ADDR")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	level := *logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid log level")
		}
		logrus.SetLevel(parsed)
	}

	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if cfg.DiscordToken == "" {
		logrus.Fatal("DISCORD_TOKEN is required")
	}

	gw, err := voice.NewGateway(cfg.DiscordToken, cfg.TranscoderPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create Discord gateway")
	}
	if err := gw.Connect(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to Discord")
	}
	defer func() {
		if err := gw.Disconnect(); err != nil {
			logrus.WithError(err).Warn("Error disconnecting from Discord")
		}
	}()

	store := queue.NewStore(cfg.PlaylistDir)
	resolver := priority.NewResolver(gw, cfg.RoleWeights, cfg.OwnerID)
	pipeline := extractor.NewPipeline(extractor.Options{
		TranscoderPath: cfg.TranscoderPath,
		CookiesFile:    cfg.CookiesFile,
		RateLimit:      cfg.RateLimit,
	})
	hub := overlay.NewHub(cfg.PresenceTTL, cfg.PresenceSweep)

	eng := engine.New(store, resolver, pipeline, gatewayDialer{gw: gw}, hub, engine.Options{
		PerUserCap:     cfg.PerUserCap,
		EQPresets:      cfg.EQPresets,
		IntroAssetPath: cfg.IntroAssetPath,
	})
	defer eng.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(eng, hub, gw.Debug).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go eng.Run(ctx)
	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("Control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown incomplete")
	}
}
