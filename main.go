package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "modernc.org/sqlite"

	"github.com/danielhkuo/pollsync/cache"
	"github.com/danielhkuo/pollsync/cliparse"
	"github.com/danielhkuo/pollsync/db"
	"github.com/danielhkuo/pollsync/middleware"
	"github.com/danielhkuo/pollsync/realtime"
	"github.com/danielhkuo/pollsync/router"
)

func openDB(cfg cliparse.Config) (*sql.DB, error) {
	if cfg.DatabaseType == "postgres" {
		return sql.Open("postgres", cfg.DatabaseURL)
	}
	conn, err := sql.Open("sqlite", "file:"+cfg.DatabaseURL+
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func main() {
	var err error

	// .env is optional; real environment variables win
	if err := cliparse.LoadEnvFile(".env"); err != nil {
		slog.Error("Error loading .env", "error", err)
		os.Exit(1)
	}

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	dbConn, err := openDB(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Verify connection
	if err := dbConn.Ping(); err != nil {
		slog.Error("database ping failed", "error", err, "type", cfg.DatabaseType)
		os.Exit(1)
	}

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := router.Deps{Registry: reg}

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			// The cache is an optimization; serve without it
			slog.Warn("redis unavailable, poll cache disabled", "error", err)
		} else {
			defer rdb.Close()
			deps.Cache = cache.NewRedis(rdb, cfg.CacheTTL)
			slog.Info("Poll cache enabled", "ttl", cfg.CacheTTL)
		}
	}

	if cfg.NATSURL != "" {
		nc, err := realtime.Connect(cfg.NATSURL, "pollsync-server")
		if err != nil {
			slog.Warn("nats unavailable, poll events disabled", "error", err)
		} else {
			defer nc.Close()
			deps.Publisher = realtime.NewNATSPublisher(nc)
			slog.Info("Poll events enabled", "url", nc.ConnectedUrl())
		}
	}

	// Create router
	mux := router.NewRouter(dbConn, cfg, deps)

	// Create server
	server := http.Server{
		Handler: middleware.CORS(mux),
		Addr:    ":" + strconv.Itoa(cfg.Port),
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		// Wait for Ctrl-C signal
		<-ctrlc
		server.Close()
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
	} else {
		slog.Info("Server closed", "error", err)
	}
}
