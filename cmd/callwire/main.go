package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/api"
	"github.com/arklight/callwire/internal/call"
	"github.com/arklight/callwire/internal/config"
	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/media"
	"github.com/arklight/callwire/internal/rtc"
	wire "github.com/arklight/callwire/internal/signal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	uid := cfg.UserID
	if uid == "" {
		uid = uuid.NewString()
	}
	username := cfg.Username
	if username == "" {
		username = "user-" + uid[:8]
	}
	self, err := domain.NewUser(domain.UserID(uid), username)
	if err != nil {
		log.Fatal().Err(err).Msg("bad identity")
	}

	capture, err := media.NewDeviceSource()
	if err != nil {
		log.Warn().Err(err).Msg("no device capture, falling back to synthetic tracks")
		capture = media.NewSyntheticSource()
	}
	tracks := media.NewTracks(capture)

	fc := rtc.FactoryConfig{ICEServers: cfg.ICEServers}
	if p, ok := capture.(media.EnginePopulator); ok {
		fc.EngineSetup = p.PopulateEngine
	}
	newLink, err := rtc.NewLinkFactory(fc)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api setup")
	}

	q := url.Values{}
	q.Set("userId", string(self.ID))
	q.Set("username", self.Username)
	wsURL := fmt.Sprintf("%s?%s", cfg.SignalURL, q.Encode())

	client, err := wire.Dial(ctx, wsURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.SignalURL).Msg("relay dial failed")
	}

	coord := call.New(ctx, call.Deps{
		Self:            self,
		API:             api.NewClient(cfg.APIURL, self.ID),
		Channel:         client,
		Presenter:       &logPresenter{},
		Tracks:          tracks,
		NewLink:         newLink,
		RingTimeout:     cfg.CallTimeout(),
		MaxParticipants: cfg.MaxParticipants,
	})
	coord.BindChannel(client)
	go func() {
		client.Run(ctx)
		// Connection loss ends the process; systemd or the shell restarts us.
		cancel()
	}()

	tid, err := client.ID(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("relay handshake failed")
	}
	coord.SetTransportID(tid)
	log.Info().Str("user_id", string(self.ID)).Str("sid", string(tid)).Msg("connected to relay")

	r := setupControlRouter(cfg, coord)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("callwire control api started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control api error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()
	_ = coord.End(endCtx)
	client.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control api forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
