package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/config"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/db"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/gc"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/logging"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

// dbConnectTimeout bounds how long startup waits for the database.
const dbConnectTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:               "minitransfer",
		Short:             "Expiring file transfer service",
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (.yaml, .yml or .toml)")
	cmd.AddCommand(newServeCmd(&configFile), newGCCmd(&configFile), newMigrateCmd(&configFile), newVersionCmd())
	return cmd
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// app holds the backends shared by every command.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *sql.DB
	redis     *redis.Client
	repo      transfer.Repository
	store     objstore.Store
	reclaimer *transfer.Reclaimer
	collector *gc.Collector
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	switch cfg.DB.Driver {
	case "memory":
		log.Warn("using in-memory metadata; transfers are lost on restart")
		a.repo = transfer.NewMemoryRepository()
	default:
		conn, err := db.Open(ctx, cfg.DB.URL, cfg.DB.MaxOpenConns, dbConnectTimeout, log)
		if err != nil {
			return nil, err
		}
		a.db = conn
		if err := db.Migrate(conn, log); err != nil {
			a.close()
			return nil, err
		}
		a.repo = transfer.NewPostgresRepository(conn, log)
	}

	store, err := objstore.New(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("object storage: %w", err)
	}
	a.store = store

	var locker gc.Locker = gc.NopLocker{}
	client, err := gc.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	if client != nil {
		a.redis = client
		locker = gc.NewRedisLocker(client)
	}

	a.reclaimer = transfer.NewReclaimer(a.repo, a.store, log)
	a.collector = gc.NewCollector(a.repo, a.store, a.reclaimer, locker, gc.Config{
		Concurrency: cfg.GC.Concurrency,
		LockTTL:     cfg.GC.LockTTL,
		OrphanGrace: cfg.GC.OrphanGrace,
	}, log)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}

// splitList turns a comma-separated setting into its non-empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
