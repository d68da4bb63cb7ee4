package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/adapters/gateway"
	"github.com/snacka/presence/internal/adapters/media"
	"github.com/snacka/presence/internal/app"
	"github.com/snacka/presence/internal/config"
	"github.com/snacka/presence/internal/domain"
)

// logSink stands in for the renderer: it logs stream lifecycle events the
// UI would bind video tiles to.
type logSink struct{}

func (logSink) StreamAdded(s domain.Stream) {
	log.Info().Str("module", "sink").Str("user", string(s.User)).Str("kind", string(s.Kind)).Msg("stream added")
}

func (logSink) StreamRemoved(s domain.Stream) {
	log.Info().Str("module", "sink").Str("user", string(s.User)).Str("kind", string(s.Kind)).Msg("stream removed")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return
	}

	self := domain.UserID(cfg.UserID)
	if self == "" {
		self = domain.UserID(uuid.NewString())
	}

	mediaCtl, err := media.NewController(media.DefaultWebRTCConfig())
	if err != nil {
		log.Error().Err(err).Msg("failed to init media")
		return
	}
	defer mediaCtl.Close()

	prefs := config.NewPrefs(cfg.PrefsPath)

	client := gateway.New(gateway.Config{
		URL:            cfg.GatewayURL,
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		RequestTimeout: cfg.RequestTimeout,
	})
	engine := app.New(self, cfg.DisplayName, client, mediaCtl, logSink{}, prefs)
	client.SetSink(engine)

	go engine.Run(ctx)
	go client.Run(ctx)

	log.Info().Str("user", string(self)).Str("gateway", cfg.GatewayURL).Msg("presence engine started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
}
