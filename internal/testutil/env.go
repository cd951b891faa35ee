package testutil

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackzampolin/scribe/internal/config"
)

// ServerConfig holds the values a test passes to server.New.
type ServerConfig struct {
	Host       string
	Port       string
	HomePath   string
	ConfigFile string
	Defra      config.DefraConfig
	Logger     *slog.Logger
}

// NewServerConfig picks free ports and a temporary home for a server test.
// The test is skipped without Docker.
func NewServerConfig(t *testing.T) ServerConfig {
	t.Helper()
	_ = DockerClient(t)

	httpPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for HTTP: %v", err)
	}
	defraPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for DefraDB: %v", err)
	}
	homePath := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.Port = httpPort
	cfg.Defra = config.DefraConfig{
		ContainerName: UniqueContainerName(t, "defra"),
		Image:         cfg.Defra.Image,
		Port:          defraPort,
		Labels:        ContainerLabels(t),
	}
	configFile := filepath.Join(homePath, "config.yaml")
	if err := config.Write(configFile, cfg); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return ServerConfig{
		Host:       "127.0.0.1",
		Port:       httpPort,
		HomePath:   homePath,
		ConfigFile: configFile,
		Defra:      cfg.Defra,
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// URL returns the server's base URL.
func (c ServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// StatusResponse is the subset of /status tests look at.
type StatusResponse struct {
	Server    string `json:"server"`
	Providers struct {
		Registered []string `json:"registered"`
		Active     string   `json:"active"`
	} `json:"providers"`
	Defra struct {
		Container string `json:"container"`
		Health    string `json:"health"`
		URL       string `json:"url"`
		// Collections lists document counts once DefraDB is healthy.
		Collections []struct {
			Name      string `json:"name"`
			Documents int    `json:"documents"`
		} `json:"collections"`
	} `json:"defra"`
}

// GetStatus fetches and decodes /status.
func GetStatus(url string) (*StatusResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForServer polls /status until DefraDB reports healthy.
func WaitForServer(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st, err := GetStatus(url); err == nil && st.Defra.Health == "healthy" {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}

// WaitForShutdown waits for done or times out.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// FindFreePort returns an unused TCP port on the loopback interface.
func FindFreePort() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return fmt.Sprintf("%d", l.Addr().(*net.TCPAddr).Port), nil
}

// WriteArchive writes a zip holding files (path -> content) under dir and
// returns its path. Entries are written in sorted order.
func WriteArchive(t testing.TB, dir, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("zip entry %s: %v", n, err)
		}
		if _, err := w.Write([]byte(files[n])); err != nil {
			t.Fatalf("zip write %s: %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return path
}
