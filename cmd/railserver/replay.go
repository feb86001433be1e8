package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cyberinferno/railserver/replay"
	"github.com/urfave/cli/v3"
)

func compressionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "compression",
		Usage: "bundle codec: none, snappy or zstd",
		Value: string(replay.CompressionSnappy),
	}
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "read the replay log (requires the redis backend to see another process's games)",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list recorded games",
				Action: runReplayList,
			},
			{
				Name:  "export",
				Usage: "write one game as a compressed JSON-lines bundle",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "game", Usage: "replay id of the game", Required: true},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, stdout when empty"},
					compressionFlag(),
				},
				Action: runReplayExport,
			},
			{
				Name:  "inspect",
				Usage: "summarise an exported bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Aliases: []string{"i"}, Usage: "bundle file", Required: true},
					compressionFlag(),
				},
				Action: runReplayInspect,
			},
		},
	}
}

func runReplayList(ctx context.Context, cmd *cli.Command) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer store.Close()

	games, err := store.ListGames(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMAP\tPLAYERS\tTURNS\tDATE")
	for _, g := range games {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n", g.ID, g.Name, g.MapName, g.PlayerCount, g.TurnCount, g.Date.Format(time.RFC3339))
	}

	return w.Flush()
}

func runReplayExport(ctx context.Context, cmd *cli.Command) error {
	c, err := replay.ParseCompression(cmd.String("compression"))
	if err != nil {
		return err
	}

	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer store.Close()

	var out io.Writer = cmd.Root().Writer
	if path := cmd.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	return replay.Export(ctx, store, cmd.Int64("game"), out, c)
}

func runReplayInspect(_ context.Context, cmd *cli.Command) error {
	c, err := replay.ParseCompression(cmd.String("compression"))
	if err != nil {
		return err
	}

	f, err := os.Open(cmd.String("in"))
	if err != nil {
		return err
	}
	defer f.Close()

	bundle, err := replay.Import(f, c)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, a := range bundle.Actions {
		counts[a.Code.String()]++
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "game %d %q on %s, %d players, %d turns\n",
		bundle.Game.ID, bundle.Game.Name, bundle.Game.MapName, bundle.Game.PlayerCount, bundle.Game.TurnCount)
	for _, name := range []string{"LOGIN", "MOVE", "UPGRADE", "TURN", "LOGOUT"} {
		fmt.Fprintf(w, "  %-8s %d\n", name, counts[name])
	}

	return nil
}
