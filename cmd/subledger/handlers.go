package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/subledger/internal/config"
	"github.com/elonfeng/subledger/internal/consumer"
	"github.com/elonfeng/subledger/internal/ingest"
	"github.com/elonfeng/subledger/internal/retry"
	"github.com/elonfeng/subledger/internal/store"
	"github.com/elonfeng/subledger/pkg/server"
	"github.com/elonfeng/subledger/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// setup loads the config and builds the logger every command shares.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, error) {
	db, err := store.Open(cfg.Driver, cfg.Source())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened",
		zap.String("driver", db.Driver()),
		zap.String("source", config.RedactDSN(cfg.Source())))
	return db, nil
}

func buildReddit(cfg *config.Config) *source.Reddit {
	return source.NewReddit(source.RedditOptions{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
		Communities:  cfg.Stream.Communities,
		PageLimit:    cfg.Stream.PageLimit,
		Retry:        retry.DefaultConfig(),
	})
}

func streamOptions(cfg config.StreamConfig) source.StreamOptions {
	return source.StreamOptions{
		SkipExisting: cfg.SkipExisting,
		MinWait:      cfg.ParseMinWait(),
		MaxWait:      cfg.ParseMaxWait(),
	}
}

func runDaemon(port int, withServer bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := openStore(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	reddit := buildReddit(cfg)
	opts := streamOptions(cfg.Stream)
	pipeline := ingest.New(db, logger, ingest.Options{DoNotScanUsers: cfg.Ingest.DoNotScanUsers})
	cons := consumer.New(reddit.Submissions(opts), reddit.Comments(opts), pipeline, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("watching communities",
		zap.Strings("communities", cfg.Stream.Communities),
		zap.Bool("skip_existing", cfg.Stream.SkipExisting))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cons.Run(gctx)
	})
	if withServer {
		srv := server.New(db, logger, port)
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("shutting down")
		return nil
	}
	return err
}

func runServe(port int) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := openStore(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.New(db, logger, port).ListenAndServe(ctx)
}

func runStats(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	st, err := db.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	if jsonOutput {
		return printJSON(st)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS")
	fmt.Fprintf(w, "communities\t%d\n", st.Communities)
	fmt.Fprintf(w, "authors\t%d\n", st.Authors)
	fmt.Fprintf(w, "author_snapshots\t%d\n", st.Snapshots)
	fmt.Fprintf(w, "posts\t%d\n", st.Posts)
	fmt.Fprintf(w, "replies\t%d\n", st.Replies)
	return w.Flush()
}

func runHistory(username string, jsonOutput bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	author, err := db.GetAuthor(ctx, username)
	if err != nil {
		return err
	}
	snaps, err := db.ListSnapshots(ctx, username, limit)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	if jsonOutput {
		return printJSON(map[string]any{
			"author":    author,
			"snapshots": snaps,
		})
	}

	created := "unknown"
	if author.CreatedAt != nil {
		created = author.CreatedAt.Format(time.RFC3339)
	}
	fmt.Printf("%s (created %s)\n\n", author.Username, created)

	if len(snaps) == 0 {
		fmt.Println("no snapshots recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CAPTURED\tLINK KARMA\tCOMMENT KARMA\tVERIFIED\tNSFW\tTITLE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%t\t%s\n",
			s.CapturedAt.Format(time.RFC3339), s.LinkKarma, s.CommentKarma,
			s.HasVerifiedEmail, s.ProfileOver18, s.ProfileTitle)
	}
	return w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
