package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"github.com/wfunc/guessroulette/broadcast"
	"github.com/wfunc/guessroulette/config"
	"github.com/wfunc/guessroulette/engine"
	"github.com/wfunc/guessroulette/game"
	"github.com/wfunc/guessroulette/inbox"
	"github.com/wfunc/guessroulette/logger"
	"github.com/wfunc/guessroulette/monitor"
	"github.com/wfunc/guessroulette/persistence"
	"github.com/wfunc/guessroulette/scoring"
	"github.com/wfunc/guessroulette/server"
	"github.com/wfunc/guessroulette/session"
	"github.com/wfunc/guessroulette/transport"
	"golang.org/x/sync/errgroup"
)

func main() {
	envErr := godotenv.Load()

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	path, _ := flags.GetString("config")

	cfg, err := config.LoadConfig(path, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()
	if envErr != nil {
		logger.Log.Debugf("no .env loaded: %v", envErr)
	}

	if err := run(cfg); err != nil {
		logger.Log.Fatalf("coordinator stopped: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	mon := monitor.NewMonitor(cfg.Metrics.Namespace)
	messages := inbox.New(inbox.DefaultCapacity)
	registry := session.NewRegistry(messages, clock, mon)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Log.Debugf("closing sessions: %v", err)
		}
	}()

	sessionOpts := session.DefaultOptions()
	sessionOpts.AckTimeout = cfg.Session.AckTimeout
	sessionOpts.Retries = cfg.Session.Retries
	sendOpts := session.SendOptions{ExpectAck: true, Retries: cfg.Session.Retries, Timeout: cfg.Session.AckTimeout}

	recorder, err := newRecorder(cfg)
	if err != nil {
		return err
	}
	defer recorder.Close()

	eng := engine.New(engineConfig(cfg, sendOpts), registry, clock, engine.WithMonitor(mon))
	controller := game.NewController(eng, messages, registry, registry, clock, game.Options{
		Tick:     cfg.Game.Tick,
		Send:     sendOpts,
		Recorder: recorder,
		Monitor:  mon,
	})

	g, gctx := errgroup.WithContext(ctx)

	var devices http.Handler
	switch cfg.Transport.Kind {
	case config.TransportStream:
		opts := transport.DefaultStreamOptions()
		opts.Session = sessionOpts
		stream := transport.NewStream(registry, messages, clock, opts)
		devices = stream
		g.Go(func() error { return stream.ListenAndServe(gctx, cfg.Transport.TCPAddress) })
	case config.TransportPubSub:
		nc, err := transport.DialNATS(cfg.Transport.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		pubsub := transport.NewPubSub(nc, registry, messages, clock, cfg.Transport.SubjectPrefix, sessionOpts)
		g.Go(func() error { return pubsub.Run(gctx) })
	}

	liveness := session.NewLiveness(registry, clock, cfg.Session.SweepInterval, cfg.Session.DeadAfter)
	g.Go(func() error { return liveness.Run(gctx) })

	api := server.NewGameServer(cfg.Server.HTTPAddress, server.Deps{
		Controller:  controller,
		Sender:      registry,
		Broadcaster: broadcast.NewDeviceBroadcaster(registry, registry),
		Monitor:     mon,
		Devices:     devices,
		Send:        sendOpts,
	})
	g.Go(func() error { return api.Run(gctx) })

	g.Go(func() error {
		err := controller.Run(gctx)
		if controller.Status() == game.StatusFinished {
			logger.Log.Info("game over, shutting down")
			stop()
		}
		return err
	})

	logger.Log.Infof("coordinator started: transport %s, game %s", cfg.Transport.Kind, eng.ID())
	return g.Wait()
}

func newRecorder(cfg *config.Config) (persistence.Recorder, error) {
	if !cfg.Database.Enabled {
		return persistence.NopRecorder{}, nil
	}
	pg := cfg.Database.Postgres
	rec, err := persistence.NewGormRecorder(persistence.PostgresDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName))
	if err != nil {
		return nil, fmt.Errorf("result archive: %w", err)
	}
	logger.Log.Info("database connection successful")
	return rec, nil
}

func engineConfig(cfg *config.Config, send session.SendOptions) engine.Config {
	policy := engine.ForfeitOnTimeout
	if cfg.Game.PhaseTimeoutPolicy == config.PolicyWait {
		policy = engine.WaitOnTimeout
	}
	return engine.Config{
		MaxRounds:     cfg.Game.MaxRounds,
		MinPlayers:    cfg.Game.MinPlayers,
		WheelTimeout:  cfg.Game.WheelTimeout,
		PhaseTimeout:  cfg.Game.PhaseTimeout,
		TimeoutPolicy: policy,
		Cooldown:      cfg.Game.Cooldown,
		Send:          send,
		ClearRetries:  cfg.Game.ClearRetries,
		Rules: scoring.Rules{
			MaxHealth:     cfg.Game.MaxHealth,
			BetBonus:      cfg.Scoring.BetBonus,
			BonusWindow:   cfg.Scoring.BonusWindow,
			PenaltyWindow: cfg.Scoring.PenaltyWindow,
		},
	}
}
