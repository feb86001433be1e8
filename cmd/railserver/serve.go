package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/railserver/cacher"
	"github.com/cyberinferno/railserver/config"
	"github.com/cyberinferno/railserver/game"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/replay"
	"github.com/cyberinferno/railserver/role"
	"github.com/cyberinferno/railserver/session"
	"github.com/cyberinferno/railserver/tcpserver"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	reportInterval  = time.Minute
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "accept player and observer connections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, overrides server.addr",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if addr := cmd.String("addr"); addr != "" {
		conf.Server.Addr = addr
	}

	log, err := newLogger(conf)
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := openStore(ctx, conf)
	if err != nil {
		log.Error("failed to open replay store", logger.Err(err))
		return err
	}
	defer store.Close()

	appender := replay.NewAsyncAppender(store, log)

	registry, err := game.NewRegistry(game.Settings{
		MapName:             conf.Game.MapName,
		TickTime:            conf.Game.TickTime,
		TurnTimeout:         conf.Game.TurnTimeout,
		TrainsPerPlayer:     conf.Game.TrainsPerPlayer,
		DefaultNumPlayers:   conf.Game.DefaultNumPlayers,
		DefaultNumTurns:     conf.Game.DefaultNumTurns,
		DefaultNumObservers: conf.Game.DefaultNumObservers,
	}, store, log)
	if err != nil {
		return err
	}

	table := role.NewTable(role.Deps{
		Lobby:  role.NewLobby(registry),
		Replay: store,
		Logger: log,
	})

	sessionConfig := session.Config{
		ReceiveChunkSize:    conf.Server.ReceiveChunkSize,
		MaxPayloadSize:      conf.Server.MaxPayloadSize,
		WriteTimeout:        conf.Server.WriteTimeout,
		ObserverWaitTimeout: conf.Game.ObserverWaitTimeout,
		NotifierStopTimeout: conf.Game.NotifierStopTimeout,
	}

	srv := tcpserver.New(ServiceName, conf.Server.Addr, func(id uint32, conn net.Conn) tcpserver.TCPServerSession {
		return session.New(id, conn, table, appender, sessionConfig, log)
	}, log)

	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reportGames(gctx, registry, log)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		registry.StopAll()
		srv.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Wait(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("sessions did not finish: %w", err))
		}

		if err := appender.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("replay backlog not drained (%d pending): %w", appender.Pending(), err))
		}

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown incomplete", logger.Err(err))
		return err
	}

	log.Info("server stopped")
	return nil
}

// reportGames logs the active games periodically until ctx ends.
// ActiveGames also drops finished games from the registry.
func reportGames(ctx context.Context, registry *game.Registry, log logger.Logger) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			games := registry.ActiveGames()
			players := 0
			for _, g := range games {
				players += g.Players
			}

			log.Info("active games", logger.F("games", len(games)), logger.F("players", players))
		}
	}
}

// openStore opens the configured replay backend with its listing cache.
func openStore(ctx context.Context, conf *config.Config) (*replay.CachedStore, error) {
	switch conf.Replay.Backend {
	case "memory", "":
		cache := cacher.NewMemoryCacher[[]replay.GameSummary](conf.Replay.ListCacheTTL, time.Minute)
		return replay.NewCachedStore(replay.NewMemoryStore(), cache, conf.Replay.ListCacheTTL), nil
	case "redis":
		r := conf.Replay.Redis
		client, err := replay.ConnectRedis(ctx, r.GetRedisAddr(), r.Password, r.DB)
		if err != nil {
			return nil, err
		}

		cache := cacher.NewRedisCacher[[]replay.GameSummary](client, "replay:cache:")
		return replay.NewCachedStore(replay.NewRedisStore(client, ""), cache, conf.Replay.ListCacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown replay backend %q", conf.Replay.Backend)
	}
}
