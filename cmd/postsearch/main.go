package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lostnfound/postsearch/internal/app"
	"github.com/lostnfound/postsearch/internal/config"
	"github.com/lostnfound/postsearch/internal/embedder"
	"github.com/lostnfound/postsearch/internal/logging"
	"github.com/lostnfound/postsearch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "postsearch",
		Usage:   "Lost and found post search with embedding sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to JSON config file",
				Value:   config.DefaultPath,
				EnvVars: []string{"POSTSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides the config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and consume embedding sync jobs",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "port",
						Usage: "HTTP port; overrides the config file",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: mcpCommand,
			},
			{
				Name:      "sync",
				Usage:     "Sync the embedding of one post, or of every Pending and Failed post",
				ArgsUsage: "[post-id]",
				Action:    syncCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pending",
						Usage: "Sweep all Pending and Failed posts",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent syncs during a sweep (0 = number of CPUs)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Max posts per sweep (0 = config value, -1 = all)",
					},
				},
			},
			{
				Name:      "embed",
				Usage:     "Embed a text with the configured provider to check its setup",
				ArgsUsage: "<text>",
				Action:    embedCommand,
			},
			{
				Name:   "version",
				Usage:  "Print build information",
				Action: versionCommand,
			},
		},
	}
}

// setup loads configuration and builds the logger. console selects where
// console logs go.
func setup(c *cli.Context, console zapcore.WriteSyncer) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	cfg.Log.Console = console
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCommand(c *cli.Context) error {
	cfg, logger, err := setup(c, zapcore.AddSync(os.Stdout))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if port := c.String("port"); port != "" {
		cfg.Server.Port = port
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("postsearch starting", zap.String("version", version), zap.String("port", cfg.Server.Port))
	if err := a.RunServer(ctx); err != nil {
		return err
	}
	logger.Info("postsearch stopped")
	return nil
}

func mcpCommand(c *cli.Context) error {
	// stdout carries the protocol
	cfg, logger, err := setup(c, zapcore.AddSync(os.Stderr))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.RunMCP(ctx, os.Stdin, os.Stdout)
}

func syncCommand(c *cli.Context) error {
	cfg, logger, err := setup(c, zapcore.AddSync(os.Stderr))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	postID := c.Args().First()
	pending := c.Bool("pending")
	if (postID == "") == !pending {
		return errors.New("give either a post id or --pending")
	}
	if c.IsSet("workers") {
		cfg.Sync.SweepWorkers = c.Int("workers")
	}
	if c.IsSet("batch-size") {
		cfg.Sync.SweepBatchSize = c.Int("batch-size")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if pending {
		stats, err := a.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("updated=%d skipped=%d repaired=%d superseded=%d failed=%d duration=%s\n",
			stats.PostsUpdated, stats.PostsSkipped, stats.PostsRepaired,
			stats.PostsSuperseded, stats.PostsFailed, stats.Duration)
		for _, msg := range stats.ErrorMessages {
			fmt.Fprintln(os.Stderr, msg)
		}
		return nil
	}

	result, err := a.Syncer.SyncEmbedding(ctx, postID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (%s) in %s\n", result.PostID, result.Outcome, result.Status, result.Duration)
	return nil
}

func embedCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("give a text to embed")
	}
	cfg, logger, err := setup(c, zapcore.AddSync(os.Stderr))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		return err
	}
	defer emb.Close()

	ctx, stop := signalContext()
	defer stop()

	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return embedder.Classify(err)
	}
	if err := embedder.CheckDimension(emb, result.Vector); err != nil {
		return err
	}
	preview := result.Vector
	if len(preview) > 5 {
		preview = preview[:5]
	}
	fmt.Printf("provider=%s model=%s dimension=%d\n", emb.Provider(), emb.Model(), len(result.Vector))
	fmt.Printf("first values: %v\n", preview)
	return nil
}

func versionCommand(c *cli.Context) error {
	fmt.Printf("postsearch\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Build Mode: %s\n", storage.BuildMode)
	fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	fmt.Printf("Vector Functions: %v\n", storage.VectorFunctionsAvailable)
	return nil
}
