package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/npezzotti/go-callrelay/internal/api"
	"github.com/npezzotti/go-callrelay/internal/auth"
	"github.com/npezzotti/go-callrelay/internal/config"
	"github.com/npezzotti/go-callrelay/internal/database"
	"github.com/npezzotti/go-callrelay/internal/recorder"
	"github.com/npezzotti/go-callrelay/internal/relay"
	"github.com/npezzotti/go-callrelay/internal/stats"
	"github.com/redis/go-redis/v9"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	signingKey     string
	allowedOrigins stringSliceFlag
	recorderKind   string
	dsn            string
	redisAddr      string
	iceServers     string
	maxConnections int
	duplicateLogin string
)

func main() {
	flag.StringVar(&addr, "addr", ":8081", "server address")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("RELAY_SIGNING_KEY"), "base64 encoded token signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS and sockets")
	flag.StringVar(&recorderKind, "recorder", config.RecorderNone, "call event recorder: none, postgres or sqlite")
	flag.StringVar(&dsn, "dsn", "", "recorder database connection string")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for agent presence, empty to disable")
	flag.StringVar(&iceServers, "ice-servers", config.DefaultICEServers, "JSON array of ICE servers handed to clients")
	flag.IntVar(&maxConnections, "max-connections", 1000, "maximum concurrent identities, 0 for unlimited")
	flag.StringVar(&duplicateLogin, "duplicate-login", config.DuplicateReplace, "policy for a second login of the same identity: replace or reject")
	flag.Parse()

	logger := log.New(os.Stderr, "[relay] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Options{
		ServerAddr:     addr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Recorder:       recorderKind,
		DatabaseDSN:    dsn,
		RedisAddr:      redisAddr,
		ICEServers:     iceServers,
		MaxConnections: maxConnections,
		DuplicateLogin: duplicateLogin,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	var (
		repo  database.EventRepository
		sinks []recorder.Sink
	)

	switch cfg.Recorder {
	case config.RecorderPostgres, config.RecorderSQLite:
		driver := database.DriverPostgres
		if cfg.Recorder == config.RecorderSQLite {
			driver = database.DriverSQLite
		}

		sqlRepo, err := database.NewSQLEventRepository(driver, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		repo = sqlRepo
		sinks = append(sinks, recorder.NewSQLSink(sqlRepo))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Printf("redis ping %s: %v (presence writes will be retried per event)", cfg.RedisAddr, err)
		}
		sinks = append(sinks, recorder.NewPresenceSink(client, recorder.DefaultPresencePrefix, recorder.DefaultPresenceTTL))
	}

	var rec recorder.Recorder = recorder.Nop{}
	var async *recorder.Async
	if len(sinks) > 0 {
		async = recorder.NewAsync(logger, sinks...)
		async.Run()
		rec = async
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater()

	signalRelay := relay.NewRelay(logger, rec, statsUpdater, relay.Options{
		ICEServers:      cfg.ICEServers,
		DuplicatePolicy: relay.DuplicatePolicy(cfg.DuplicateLogin),
		MaxConnections:  cfg.MaxConnections,
	})

	srv := api.NewRelayApp(mux, logger, signalRelay, auth.NewJWTVerifier(cfg.SigningKey), repo, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	if err := signalRelay.Shutdown(shutDownCtx); err != nil {
		logger.Println("relay shutdown:", err)
	}

	if async != nil {
		logger.Println("flushing recorder...")
		if err := async.Close(); err != nil {
			logger.Println("recorder close:", err)
		}
	}

	logger.Println("shutdown complete")
}
