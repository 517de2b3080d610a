// Command zoroxd runs the Zorox message-replication service: it wires the
// store, filter engine, image guard, sender pool, dispatcher, pipeline, and
// health monitor (spec §4) together behind a small cobra CLI, grounded on
// the general explicit-dependency-struct wiring style seen across the
// example repos' main packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunil55999/Zorox/pkg/bus"
	"github.com/sunil55999/Zorox/pkg/config"
	"github.com/sunil55999/Zorox/pkg/dispatcher"
	"github.com/sunil55999/Zorox/pkg/health"
	"github.com/sunil55999/Zorox/pkg/imageguard"
	"github.com/sunil55999/Zorox/pkg/logger"
	"github.com/sunil55999/Zorox/pkg/pipeline"
	"github.com/sunil55999/Zorox/pkg/platform"
	"github.com/sunil55999/Zorox/pkg/senderpool"
	"github.com/sunil55999/Zorox/pkg/store"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "zoroxd",
		Short:   "Zorox message-replication daemon",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env vars always take precedence)")

	root.AddCommand(serveCmd(), backupCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: listeners, pipeline, dispatcher, and health monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func backupCmd() *cobra.Command {
	var dest string
	c := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the store to a destination path and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := store.Open(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if dest == "" {
				dest = fmt.Sprintf("%s/zorox-%s.db", cfg.Store.BackupDir, time.Now().UTC().Format("20060102T150405Z"))
			}
			if err := st.Backup(cmd.Context(), dest); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			logger.InfoCF("cmd", "Backup complete", map[string]any{"dest": dest})
			return nil
		},
	}
	c.Flags().StringVar(&dest, "dest", "", "destination file path (default: store.backup_dir/zorox-<timestamp>.db)")
	return c
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// store.Open applies CREATE TABLE IF NOT EXISTS on connect, so
			// opening and closing is the entire migration.
			st, err := store.Open(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if err := st.Close(); err != nil {
				return err
			}
			logger.InfoC("cmd", "Schema up to date")
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	for _, w := range cfg.Filter.GlobalBlockedWords {
		if err := st.AddBlockedWord(ctx, w, 0); err != nil {
			return fmt.Errorf("seed global blocked word %q: %w", w, err)
		}
	}

	guard := imageguard.New(st, cfg.ImageGuard.SimilarityThreshold)

	pool := senderpool.New(cfg.SenderPool.ProbeInterval)
	senderRows, err := st.ListSenders(ctx)
	if err != nil {
		return fmt.Errorf("list senders: %w", err)
	}
	for _, s := range senderRows {
		pool.Register(s, cfg.SenderPool.DefaultRatePerSecond, cfg.SenderPool.DefaultBurst)
	}

	disp := dispatcher.New(cfg.Dispatcher, pool)
	disp.Start(ctx)

	senders := make(map[string]platform.Sender)
	var listeners []platform.SourceListener

	if cfg.TelegramToken != "" {
		tg, err := platform.NewTelegram(cfg.TelegramToken, cfg.TelegramAllowList)
		if err != nil {
			return fmt.Errorf("init telegram: %w", err)
		}
		senders["telegram"] = tg
		listeners = append(listeners, tg)
	}
	if cfg.DiscordToken != "" {
		dc, err := platform.NewDiscord(cfg.DiscordToken, cfg.DiscordAllowList)
		if err != nil {
			return fmt.Errorf("init discord: %w", err)
		}
		senders["discord"] = dc
		listeners = append(listeners, dc)
	}
	if cfg.SlackBotToken != "" && cfg.SlackAppToken != "" {
		sl, err := platform.NewSlack(cfg.SlackBotToken, cfg.SlackAppToken, cfg.SlackAllowList)
		if err != nil {
			return fmt.Errorf("init slack: %w", err)
		}
		senders["slack"] = sl
		listeners = append(listeners, sl)
	}
	if len(listeners) == 0 {
		return fmt.Errorf("no platform credentials configured: set at least one of TELEGRAM_TOKEN, DISCORD_TOKEN, or SLACK_BOT_TOKEN+SLACK_APP_TOKEN")
	}

	b := bus.NewMessageBus(cfg.Dispatcher.QueueCapacity)

	pl := pipeline.New(st, guard, disp, senders, cfg.ImageGuard.MaxMediaBytes)
	go pl.Run(ctx, b)

	for _, l := range listeners {
		l := l
		if err := l.Start(ctx, b); err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
	}

	monitor := health.New(cfg.Health, cfg.Store.BackupDir, st, pool, disp, senders)
	go monitor.Run(ctx)

	logger.InfoCF("cmd", "Zorox started", map[string]any{"platforms": platformNames(senders)})

	<-ctx.Done()
	logger.InfoC("cmd", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.DrainTimeout+5*time.Second)
	defer cancel()

	for _, l := range listeners {
		if err := l.Stop(shutdownCtx); err != nil {
			logger.WarnCF("cmd", "Listener stop failed", map[string]any{"error": err.Error()})
		}
	}
	b.Close()
	if err := disp.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("cmd", "Dispatcher drain incomplete", map[string]any{"error": err.Error()})
	}

	return nil
}

func platformNames(senders map[string]platform.Sender) []string {
	names := make([]string, 0, len(senders))
	for name := range senders {
		names = append(names, name)
	}
	return names
}
