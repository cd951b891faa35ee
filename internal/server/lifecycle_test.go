package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/config"
	"github.com/jackzampolin/scribe/internal/defra"
	"github.com/jackzampolin/scribe/internal/home"
	"github.com/jackzampolin/scribe/internal/project"
	"github.com/jackzampolin/scribe/internal/server/endpoints"
	"github.com/jackzampolin/scribe/internal/testutil"
)

func TestServer_FullLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	h, err := home.New(cfg.HomePath)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	cm, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}

	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Home:          h,
		ConfigManager: cm,
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	if err := testutil.WaitForServer(cfg.URL(), 90*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("ready_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Defra != "ok" {
			t.Errorf("health.Defra = %q, want %q", health.Defra, "ok")
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if status.Server != "running" {
			t.Errorf("status.Server = %q, want %q", status.Server, "running")
		}
		if status.Providers.Active != config.ProviderVachan {
			t.Errorf("active provider = %q, want %q", status.Providers.Active, config.ProviderVachan)
		}
		if status.Defra.Container != "running" {
			t.Errorf("defra container = %q, want running", status.Defra.Container)
		}
		if len(status.Defra.Collections) != 3 {
			t.Errorf("collections = %+v, want Project, Verse and Walk", status.Defra.Collections)
		}
	})

	t.Run("project_round_trip", func(t *testing.T) {
		archive := testutil.WriteArchive(t, t.TempDir(), "mark.zip", map[string]string{
			"audio/ingredients/MRK/1/1_1.wav": "RIFFxxxxWAVE",
			"audio/ingredients/MRK/1/1_2.wav": "RIFFxxxxWAVE",
		})
		f, err := os.Open(archive)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()

		client := api.NewClient(cfg.URL())
		var imported project.ImportResult
		if err := client.Upload(ctx, "/api/projects", "mark.zip", f, &imported); err != nil {
			t.Fatalf("upload error = %v", err)
		}
		if got := imported.Project.Books; len(got) != 1 || got[0] != "MRK" {
			t.Fatalf("books = %v, want [MRK]", got)
		}

		var detail endpoints.ProjectDetail
		if err := client.Get(ctx, "/api/projects/"+imported.Project.ID, &detail); err != nil {
			t.Fatalf("get error = %v", err)
		}
		if len(detail.BookStatus) != 1 {
			t.Fatalf("book statuses = %d, want 1", len(detail.BookStatus))
		}

		var deleted endpoints.DeleteProjectResponse
		if err := client.Delete(ctx, "/api/projects/"+imported.Project.ID, &deleted); err != nil {
			t.Fatalf("delete error = %v", err)
		}
		if err := client.Get(ctx, "/api/projects/"+imported.Project.ID, &detail); err == nil {
			t.Error("project still readable after delete")
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	serverCancel()
	if err := testutil.WaitForShutdown(serverErr, 60*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})

	t.Run("defra_stopped_after_shutdown", func(t *testing.T) {
		mgr, err := defra.NewDockerManager(defra.FromConfig(cfg.Defra, h.DefraDataPath()))
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		defer mgr.Close()
		c, err := mgr.Inspect(ctx)
		if err != nil {
			t.Fatalf("failed to inspect container: %v", err)
		}
		if c.State == defra.StateRunning {
			t.Error("DefraDB still running after server shutdown")
			_ = mgr.Stop(ctx)
		}
	})
}

func TestServer_DoubleStart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := home.New(cfg.HomePath)
	if err != nil {
		t.Fatal(err)
	}
	cm, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Home:          h,
		ConfigManager: cm,
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Start(serverCtx) }()
	defer func() {
		serverCancel()
		_ = testutil.WaitForShutdown(done, 60*time.Second)
	}()

	if err := testutil.WaitForServer(cfg.URL(), 90*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should return error")
	}
}

func TestNew_RequiresHomeAndConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without home should fail")
	}
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Home: h}); err == nil {
		t.Error("New() without config manager should fail")
	}
}
