package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidelog/tidelog/internal/archive"
	"github.com/tidelog/tidelog/internal/cache"
	"github.com/tidelog/tidelog/internal/config"
	"github.com/tidelog/tidelog/internal/model"
	"github.com/tidelog/tidelog/internal/server"
	"github.com/tidelog/tidelog/internal/store"
	"github.com/tidelog/tidelog/internal/sweep"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tidelog",
		Short: "Tidelog CLI",
		Long:  "Tidelog is a windowed log cache with durable eviction. This CLI manages the server, archives and basic queries.",
	}

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newArchiveCommand())
	rootCmd.AddCommand(newQueryCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}

	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the tidelog server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			// Flags beat file and environment.
			if v, _ := cmd.Flags().GetString("listen"); v != "" {
				cfg.ListenAddr = v
			}
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("window"); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid --window: %w", err)
				}
				cfg.Window = config.Duration(d)
			}
			if v, _ := cmd.Flags().GetString("fsync"); v != "" {
				cfg.Store.Fsync = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServer(ctx, cfg)
		},
	}
	startCmd.Flags().String("config", os.Getenv("TIDELOG_CONFIG"), "Path to YAML config file")
	startCmd.Flags().String("listen", "", "HTTP listen address")
	startCmd.Flags().String("data-dir", "", "Durable store directory")
	startCmd.Flags().String("window", "", "Sliding window length (e.g. 5m)")
	startCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

// runServer wires the components and blocks until ctx is cancelled.
func runServer(ctx context.Context, cfg config.Config) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	st, err := store.OpenWithOptions(store.DBOptions{
		DataDir:       cfg.DataDir,
		Fsync:         fsyncMode(cfg.Store.Fsync),
		FsyncInterval: cfg.Store.FsyncInterval.Std(),
	}, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	pruner, err := cache.NewPruner(cfg.Window.Std())
	if err != nil {
		return err
	}
	c := cache.New(pruner)

	sw := sweep.New(c, st, sweep.Options{
		Interval:       cfg.SweepInterval.Std(),
		PersistRetries: cfg.PersistRetries,
		PersistBackoff: cfg.PersistBackoff.Std(),
		Logger:         logger,
	})
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sw.Run(ctx)
	}()

	srv := server.New(c, st, sw, cfg.Auth, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "window", cfg.Window.Std().String())
		errCh <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		stop()
		<-sweeperDone
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	// Run exits after its final sweep, so entries past the window reach the
	// store before the database closes.
	<-sweeperDone
	logger.Info("exited")
	return nil
}

func newArchiveCommand() *cobra.Command {
	archiveCmd := &cobra.Command{Use: "archive", Short: "Snapshot archive operations"}

	exportCmd := &cobra.Command{
		Use:   "export <file.tlog>",
		Short: "Export a time range from the durable store into a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")

			start, end, err := parseRange(startStr, endStr)
			if err != nil {
				return err
			}

			st, err := store.Open(dataDir, store.FsyncModeNever, slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			var entries []model.Entry
			err = st.Scan(cmd.Context(), start, end, func(e model.Entry) error {
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}

			w, err := archive.NewWriter()
			if err != nil {
				return err
			}
			if err := w.WriteSnapshot(args[0], entries); err != nil {
				return err
			}
			fmt.Printf("wrote %d entries to %s\n", len(entries), args[0])
			return nil
		},
	}
	exportCmd.Flags().String("data-dir", "data", "Durable store directory")
	exportCmd.Flags().String("start", "", "Range start (RFC3339 or ns); defaults to the beginning")
	exportCmd.Flags().String("end", "", "Range end (RFC3339 or ns); defaults to now")
	archiveCmd.AddCommand(exportCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect <file.tlog>",
		Short: "Print a snapshot file's row count and time bounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := archive.NewReader()
			if err != nil {
				return err
			}
			info, err := r.Inspect(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("rows: %d\n", info.Rows)
			fmt.Printf("min:  %s\n", time.Unix(0, info.MinTs).UTC().Format(time.RFC3339Nano))
			fmt.Printf("max:  %s\n", time.Unix(0, info.MaxTs).UTC().Format(time.RFC3339Nano))
			return nil
		},
	}
	archiveCmd.AddCommand(inspectCmd)
	return archiveCmd
}

func newQueryCommand() *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query a running server over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")
			filter, _ := cmd.Flags().GetString("filter")

			q := url.Values{}
			q.Set("start", startStr)
			q.Set("end", endStr)
			if filter != "" {
				q.Set("filter", filter)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				apiURL()+"/api/logs?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			if key := os.Getenv("TIDELOG_API_KEY"); key != "" {
				req.Header.Set("Authorization", "Bearer "+key)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s: %s", resp.Status, body)
			}

			var pretty map[string]any
			if err := json.Unmarshal(body, &pretty); err != nil {
				return err
			}
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	queryCmd.Flags().String("start", "", "Range start (RFC3339 or ns)")
	queryCmd.Flags().String("end", "", "Range end (RFC3339 or ns)")
	queryCmd.Flags().String("filter", "", "CEL filter expression, e.g. tag == \"ERROR\"")
	_ = queryCmd.MarkFlagRequired("start")
	_ = queryCmd.MarkFlagRequired("end")
	return queryCmd
}

func newLogger(lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	switch lc.Level {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", lc.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch lc.Format {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", lc.Format)
	}
	return slog.New(h), nil
}

func fsyncMode(s string) store.FsyncMode {
	switch s {
	case "always":
		return store.FsyncModeAlways
	case "never":
		return store.FsyncModeNever
	default:
		return store.FsyncModeInterval
	}
}

// parseRange resolves optional start/end strings into nanosecond bounds.
func parseRange(startStr, endStr string) (int64, int64, error) {
	start := int64(0)
	end := time.Now().UnixNano()
	var err error
	if startStr != "" {
		if start, err = parseTime(startStr); err != nil {
			return 0, 0, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if endStr != "" {
		if end, err = parseTime(endStr); err != nil {
			return 0, 0, fmt.Errorf("invalid --end: %w", err)
		}
	}
	return start, end, nil
}

func parseTime(v string) (int64, error) {
	if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ns, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return 0, err
	}
	return t.UnixNano(), nil
}

func apiURL() string {
	if v := os.Getenv("TIDELOG_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
