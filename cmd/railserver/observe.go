package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/railserver/client"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/urfave/cli/v3"
)

func observeCommand() *cli.Command {
	return &cli.Command{
		Name:  "observe",
		Usage: "follow a game as an observer and log every snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:2000", Usage: "server address"},
			&cli.StringFlag{Name: "name", Value: "observer", Usage: "observer name"},
			&cli.StringFlag{Name: "game", Usage: "game to observe", Required: true},
		},
		Action: runObserve,
	}
}

type snapshot struct {
	Name   string `json:"name"`
	State  int    `json:"state"`
	Turn   int    `json:"turn"`
	Trains []struct {
		Idx      int `json:"idx"`
		LineIdx  int `json:"line_idx"`
		Position int `json:"position"`
	} `json:"trains"`
	Ratings map[string]struct {
		Name   string `json:"name"`
		Rating int    `json:"rating"`
	} `json:"ratings"`
}

func runObserve(ctx context.Context, cmd *cli.Command) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(conf)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, client.DefaultConfig(cmd.String("addr")), log, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	login := map[string]any{"name": cmd.String("name"), "game": cmd.String("game")}
	if err := c.Call(ctx, protocol.ObserverLogin, login, nil); err != nil {
		return err
	}

	log.Info("observing", logger.F("game", cmd.String("game")))

	for {
		frame, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, client.ErrClosed) {
				log.Info("observation ended", logger.Err(err))
				return nil
			}

			return err
		}

		var s snapshot
		if err := json.Unmarshal(frame.Payload, &s); err != nil {
			log.Warn("undecodable snapshot", logger.Err(err))
			continue
		}

		ratings := make(map[string]int, len(s.Ratings))
		for _, r := range s.Ratings {
			ratings[r.Name] = r.Rating
		}

		log.Info("snapshot",
			logger.F("turn", s.Turn),
			logger.F("state", s.State),
			logger.F("trains", len(s.Trains)),
			logger.F("ratings", ratings),
		)
	}
}
