package defra

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v4"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/jackzampolin/scribe/internal/config"
)

const (
	DefaultImage         = "sourcenetwork/defradb:latest"
	DefaultContainerName = "scribe-defra"
	DefaultPort          = "9181"

	// ManagedLabel is set on every container scribe creates.
	ManagedLabel = "io.scribe.defra"

	apiPort      nat.Port = "9181/tcp"
	dataDir               = "/data"
	readyTimeout          = 30 * time.Second
	stopTimeout           = 10
)

// State is the lifecycle state of the DefraDB container.
type State string

const (
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateMissing  State = "missing"
)

// DockerConfig describes the container scribe runs DefraDB in.
type DockerConfig struct {
	ContainerName string
	Image         string
	// DataPath is bind-mounted as the badger root (~/.scribe/defradb).
	DataPath string
	HostPort string
	Labels   map[string]string
}

// FromConfig maps the defra config section onto a DockerConfig.
func FromConfig(c config.DefraConfig, dataPath string) DockerConfig {
	return DockerConfig{
		ContainerName: c.ContainerName,
		Image:         c.Image,
		DataPath:      dataPath,
		HostPort:      c.Port,
		Labels:        c.Labels,
	}.withDefaults()
}

func (cfg DockerConfig) withDefaults() DockerConfig {
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.HostPort == "" {
		cfg.HostPort = DefaultPort
	}
	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	cfg.Labels = labels
	return cfg
}

// Container is what Docker reports about the DefraDB container.
type Container struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	State State  `json:"state"`
	// Health is Docker's healthcheck status; empty before the first probe.
	Health   string `json:"health,omitempty"`
	HostPort string `json:"host_port,omitempty"`
	DataPath string `json:"data_path,omitempty"`
	Managed  bool   `json:"managed"`
}

// check reports why an existing container cannot serve cfg.
func (c *Container) check(cfg DockerConfig) error {
	if c.State == StateMissing {
		return nil
	}
	if !c.Managed {
		return fmt.Errorf("container %s was not created by scribe", c.Name)
	}
	if c.HostPort != cfg.HostPort {
		return fmt.Errorf("container %s publishes port %q, config wants %q", c.Name, c.HostPort, cfg.HostPort)
	}
	if cfg.DataPath != "" && c.DataPath != cfg.DataPath {
		return fmt.Errorf("container %s mounts %q at %s, config wants %q", c.Name, c.DataPath, dataDir, cfg.DataPath)
	}
	return nil
}

// DockerManager runs the DefraDB container that backs a scribe home.
type DockerManager struct {
	cli *client.Client
	cfg DockerConfig
}

// NewDockerManager connects to the Docker daemon from the environment.
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerManager{cli: cli, cfg: cfg.withDefaults()}, nil
}

func (m *DockerManager) Close() error {
	return m.cli.Close()
}

// URL is the DefraDB API address on the host.
func (m *DockerManager) URL() string {
	return "http://localhost:" + m.cfg.HostPort
}

// Inspect reports the container. A container that does not exist is
// returned with StateMissing, not an error.
func (m *DockerManager) Inspect(ctx context.Context) (*Container, error) {
	c := &Container{Name: m.cfg.ContainerName, State: StateMissing}
	info, err := m.cli.ContainerInspect(ctx, m.cfg.ContainerName)
	if cerrdefs.IsNotFound(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", m.cfg.ContainerName, err)
	}

	c.ID = info.ID
	if info.Config != nil {
		c.Image = info.Config.Image
		c.Managed = info.Config.Labels[ManagedLabel] != ""
	}
	if info.State != nil {
		switch info.State.Status {
		case "running":
			c.State = StateRunning
		case "created", "restarting":
			c.State = StateStarting
		default:
			c.State = StateStopped
		}
		if info.State.Health != nil {
			c.Health = info.State.Health.Status
		}
	}
	if info.HostConfig != nil {
		if b := info.HostConfig.PortBindings[apiPort]; len(b) > 0 {
			c.HostPort = b[0].HostPort
		}
	}
	for _, mnt := range info.Mounts {
		if mnt.Destination == dataDir {
			c.DataPath = mnt.Source
		}
	}
	return c, nil
}

// Ensure brings the container up and waits for DefraDB to answer. An
// existing container whose port or data mount differs from the config is
// refused rather than reused.
func (m *DockerManager) Ensure(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}
	c, err := m.Inspect(ctx)
	if err != nil {
		return err
	}
	if err := c.check(m.cfg); err != nil {
		return err
	}

	id := c.ID
	switch c.State {
	case StateRunning:
		return m.waitReady(ctx)
	case StateMissing:
		if id, err = m.create(ctx); err != nil {
			return err
		}
	}
	if err := m.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if c.State == StateMissing {
			_ = m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		}
		return fmt.Errorf("failed to start %s: %w", m.cfg.ContainerName, err)
	}
	return m.waitReady(ctx)
}

// Stop stops the container, keeping it and its data.
func (m *DockerManager) Stop(ctx context.Context) error {
	timeout := stopTimeout
	err := m.cli.ContainerStop(ctx, m.cfg.ContainerName, container.StopOptions{Timeout: &timeout})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop %s: %w", m.cfg.ContainerName, err)
	}
	return nil
}

// Logs copies the last tail lines of the container's output.
func (m *DockerManager) Logs(ctx context.Context, tail string, stdout, stderr io.Writer) error {
	rc, err := m.cli.ContainerLogs(ctx, m.cfg.ContainerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return fmt.Errorf("failed to read logs of %s: %w", m.cfg.ContainerName, err)
	}
	defer rc.Close()
	_, err = stdcopy.StdCopy(stdout, stderr, rc)
	return err
}

func (m *DockerManager) create(ctx context.Context) (string, error) {
	if _, err := m.cli.ImageInspect(ctx, m.cfg.Image); err != nil {
		rc, err := m.cli.ImagePull(ctx, m.cfg.Image, image.PullOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to pull %s: %w", m.cfg.Image, err)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to pull %s: %w", m.cfg.Image, err)
		}
	}

	cfg := &container.Config{
		Image: m.cfg.Image,
		Cmd: []string{
			"start", "--no-keyring",
			"--url", "0.0.0.0:" + apiPort.Port(),
			"--store", "badger",
			"--rootdir", dataDir,
		},
		Labels:       m.cfg.Labels,
		ExposedPorts: nat.PortSet{apiPort: struct{}{}},
		Healthcheck: &container.HealthConfig{
			Test:        []string{"CMD", "curl", "-sf", "http://localhost:" + apiPort.Port() + "/health-check"},
			Interval:    2 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     10,
			StartPeriod: 5 * time.Second,
		},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			apiPort: {{HostIP: "127.0.0.1", HostPort: m.cfg.HostPort}},
		},
	}
	if m.cfg.DataPath != "" {
		host.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: m.cfg.DataPath, Target: dataDir}}
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, host, nil, nil, m.cfg.ContainerName)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", m.cfg.ContainerName, err)
	}
	return resp.ID, nil
}

func (m *DockerManager) waitReady(ctx context.Context) error {
	return WaitHealthy(ctx, NewClient(m.URL()), readyTimeout)
}

// WaitHealthy polls a client's health check once a second until it
// succeeds or timeout elapses.
func WaitHealthy(ctx context.Context, c *Client, timeout time.Duration) error {
	attempts := uint(timeout / time.Second)
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error { return c.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}
