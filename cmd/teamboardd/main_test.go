package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/config"
	"github.com/GoCodeAlone/teamboard/task"
)

func TestOpenStoresSeedsSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "board.db")

	projects := []config.ProjectConfig{{ID: "p1", Name: "Launch", Owner: "alice", Members: []string{"builder"}}}
	for i := range 2 { // seeding runs on every start
		store, gate, closeDB, err := openStores(cfg)
		if err != nil {
			t.Fatalf("openStores: %v", err)
		}
		if err := seedProjects(ctx, gate, projects); err != nil {
			closeDB()
			t.Fatalf("seedProjects run %d: %v", i, err)
		}
		if i == 0 {
			if _, err := store.CreateTask(ctx, "p1", task.NewTask{TaskID: "T", Description: "Persist me"}); err != nil {
				closeDB()
				t.Fatalf("CreateTask: %v", err)
			}
		}
		closeDB()
	}

	store, gate, closeDB, err := openStores(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB()
	for _, id := range []string{"alice", "builder"} {
		ok, err := gate.CanAccessProject(ctx, access.Identity{ID: id}, "p1")
		if err != nil || !ok {
			t.Errorf("CanAccessProject(%s) = %v, %v; want true", id, ok, err)
		}
	}
	if ok, _ := gate.CanAccessProject(ctx, access.Identity{ID: "mallory"}, "p1"); ok {
		t.Error("mallory allowed")
	}
	if _, err := store.GetTask(ctx, "p1", "T"); err != nil {
		t.Errorf("task not persisted: %v", err)
	}
}

func TestOpenStoresMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.StoreMemory
	store, gate, closeDB, err := openStores(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB()
	if _, ok := store.(*task.MemoryStore); !ok {
		t.Errorf("store = %T", store)
	}
	if _, ok := gate.(*access.StaticGate); !ok {
		t.Errorf("gate = %T", gate)
	}
}

func TestPrintTokenRejects(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := printToken(cfg, "alice"); err == nil {
		t.Error("expected error without a secret")
	}
	cfg.Auth.JWTSecret = "s"
	if err := printToken(cfg, "alice:robot"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
