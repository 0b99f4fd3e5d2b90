// Command teamboardd is the teamboard server daemon.
// It wires the task store, access gate, room hub and broadcast relay from a
// YAML config file and serves the websocket and REST endpoints.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/board"
	"github.com/GoCodeAlone/teamboard/boardplugin"
	"github.com/GoCodeAlone/teamboard/comms"
	"github.com/GoCodeAlone/teamboard/config"
	"github.com/GoCodeAlone/teamboard/internal/database"
	"github.com/GoCodeAlone/teamboard/internal/version"
	"github.com/GoCodeAlone/teamboard/server"
	"github.com/GoCodeAlone/teamboard/task"
)

var (
	configPath = flag.String("config", "teamboard.yaml", "path to config file")
	issueToken = flag.String("issue-token", "", "print a token for subject[:kind] and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken); err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	logger.Info("starting teamboardd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("teamboardd failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, gate, closeDB, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := seedProjects(ctx, gate, cfg.Projects); err != nil {
		return err
	}

	hub := boardplugin.NewRoomHub("room-hub", logger)
	defer hub.Close()

	origin := uuid.New().String()
	var (
		bus   comms.Bus
		kafka *comms.KafkaBus
	)
	switch cfg.Relay.Driver {
	case config.RelayKafka:
		kafka = comms.NewKafkaBus(comms.KafkaConfig{
			Brokers: cfg.Relay.Brokers,
			Topic:   cfg.Relay.Topic,
			GroupID: cfg.Relay.GroupID,
			Origin:  origin,
		}, logger)
		bus = kafka
	default:
		bus = comms.NewInMemoryBus()
	}
	defer bus.Close() //nolint:errcheck

	relay := comms.NewRelay(bus, hub, origin, logger)
	relay.Start(ctx)
	defer relay.Stop()

	engine := board.New(board.Options{
		Store:     store,
		Gate:      gate,
		Rooms:     hub,
		Publisher: relay,
		Logger:    logger,
	})

	srv := server.New(*cfg, version.Version, logger)
	srv.SetGate(gate)
	srv.SetTaskStore(store)
	srv.SetEngine(engine)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	if kafka != nil {
		g.Go(func() error { return kafka.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	fmt.Printf("Teamboard server running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s\n", version.String())
	return g.Wait()
}

// openStores builds the task store and access gate for the configured
// driver. Both share one SQLite database when persistence is on.
func openStores(cfg *config.Config) (task.Store, access.Repository, func(), error) {
	if cfg.Store.Driver == config.StoreMemory {
		return task.NewMemoryStore(), access.NewStaticGate(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := database.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() { _ = db.Close() }
	store, gate, err := sqliteStores(db)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	return store, gate, closeDB, nil
}

func sqliteStores(db *sql.DB) (task.Store, access.Repository, error) {
	store, err := task.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	gate, err := access.NewSQLiteGate(db)
	if err != nil {
		return nil, nil, err
	}
	return store, gate, nil
}

func seedProjects(ctx context.Context, repo access.Repository, projects []config.ProjectConfig) error {
	for _, p := range projects {
		if err := repo.CreateProject(ctx, access.Project{ID: p.ID, Name: p.Name, OwnerID: p.Owner}); err != nil {
			return fmt.Errorf("seed project %s: %w", p.ID, err)
		}
		for _, member := range p.Members {
			if err := access.Grant(ctx, repo, p.ID, member); err != nil {
				return fmt.Errorf("seed project %s member %s: %w", p.ID, member, err)
			}
		}
	}
	return nil
}

// printToken signs a token for "subject" or "subject:kind" with the
// configured secret.
func printToken(cfg *config.Config, subjectKind string) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set to issue tokens offline")
	}
	subject, kind, _ := strings.Cut(subjectKind, ":")
	id := access.Identity{ID: subject, Kind: access.Kind(kind)}
	switch id.Kind {
	case "", access.KindUser, access.KindAgent:
	default:
		return fmt.Errorf("unknown identity kind %q", kind)
	}
	token, err := server.SignToken(cfg.Auth.JWTSecret, id, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
