package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/chatroom/internal/authority"
	"github.com/chatroom/internal/call"
	"github.com/chatroom/internal/config"
	"github.com/chatroom/internal/directory"
	"github.com/chatroom/internal/eventloop"
	"github.com/chatroom/internal/handler"
	"github.com/chatroom/internal/logger"
	"github.com/chatroom/internal/repository"
	"github.com/chatroom/internal/room"
	"github.com/chatroom/internal/startup"
	"github.com/chatroom/internal/storage"
	"github.com/chatroom/internal/storage/devstore"
	"github.com/chatroom/internal/storage/memory"
	"github.com/chatroom/internal/transport"
	"github.com/chatroom/internal/turn"
	"github.com/chatroom/internal/upload"
	"github.com/chatroom/internal/ws"
	"github.com/chatroom/migrations"
)

const maxUIConnections = 16

func main() {
	logger.SetPrefix("chatd")
	configPath := pflag.String("config", "", "path to YAML config (default: $CONFIG_PATH or config/chatd.yaml)")
	dev := pflag.Bool("dev", false, "store rooms in embedded PostgreSQL (no external DB required)")
	migrate := pflag.Bool("migrate", false, "apply postgres migrations and exit")
	pflag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.SelfHandle == "" {
		logger.Errorf("self_handle is not set")
		os.Exit(1)
	}
	logger.Infof("starting chat client for %s", cfg.SelfHandle)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	store, err := openStore(cfg, *dev)
	if err != nil {
		logger.Errorf("store: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	if *migrate {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := eventloop.New(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	hub := ws.NewHub(maxUIConnections, loop.Do)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	uploads := upload.NewRegistry(loop)
	dir := directory.New(loop)

	var session *room.Session
	calls := call.NewManager(func(roomID string) {
		loop.Post(func() {
			if r, ok := session.Room(roomID); ok {
				r.OnCallEnded()
			}
		})
	})

	link := transport.NewLink(transport.Options{
		URL:            cfg.ChatdURL,
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		PageSize:       cfg.HistoryPageSize,
	}, func(f transport.Frame) { transport.Dispatcher(loop, session)(f) },
		func() { transport.Reconnected(loop, session)() })

	session, err = room.NewSession(room.Options{
		Self:                cfg.SelfHandle,
		Scheduler:           loop,
		Transport:           link,
		Authority:           authority.New(cfg.APIURL, cfg.SelfHandle, cfg.RequestTimeout),
		Directory:           dir,
		Uploads:             uploads,
		Nodes:               uploads,
		Store:               store,
		Calls:               calls,
		Turn:                turn.New(cfg.Turn, func() string { return cfg.SelfHandle }),
		View:                hub,
		RequestTimeout:      cfg.RequestTimeout,
		DontResendOlderThan: cfg.DontResendOlderThan,
	})
	if err != nil {
		logger.Errorf("session: %v", err)
		os.Exit(1)
	}

	var restored *room.Completion
	if err := loop.Do(ctx, func() {
		session.Init(ctx)
		hub.Attach(session)
		restored = session.Restore()
	}); err != nil {
		logger.Errorf("session init: %v", err)
		os.Exit(1)
	}
	go func() {
		if err := restored.Wait(ctx); err != nil {
			logger.Errorf("restore rooms: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		link.Run(ctx)
	}()

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: handler.NewRouter(handler.Deps{
			Config:    cfg,
			Run:       loop.Do,
			Session:   session,
			Hub:       hub,
			Uploads:   uploads,
			Directory: dir,
			Calls:     calls,
		}),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("local API listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	_ = loop.Do(shutdownCtx, session.Close)
	cancel()
	wg.Wait()
	logger.Info("stopped")
}

// openStore выбирает локальное хранилище комнат по store_backend.
func openStore(cfg *config.Config, dev bool) (storage.Store, error) {
	backend := cfg.Store.Backend
	if dev {
		backend = config.StorePostgres
	}
	switch backend {
	case config.StoreBadger:
		return startup.OpenBadgerWithRetry(cfg.Store.BadgerDir, 30*time.Second, "chatd: ")
	case config.StoreRedis:
		return startup.ConnectRedisWithRetry(cfg.Store.RedisURL, 60*time.Second, "chatd: ")
	case config.StorePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = 4
		pool, err := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "chatd: ")
		if err != nil {
			return nil, err
		}
		repo := repository.NewRecordRepository(pool)
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := repo.Migrate(migrateCtx, migrations.Files); err != nil {
			repo.Close()
			return nil, err
		}
		if dev {
			return devstore.New(repo), nil
		}
		return repo, nil
	default:
		return memory.New(), nil
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "chatroom"
		password = "chatroom_secret"
		database = "chatroom"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Store.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
