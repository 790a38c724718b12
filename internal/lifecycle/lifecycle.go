// Package lifecycle manages single-instance startup: port occupancy
// detection, the managed-PID registry, and the restart takeover flow.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

const (
	defaultStopTimeout = 8 * time.Second
	defaultKillTimeout = 4 * time.Second
)

// Manager owns the pid registry file and the takeover flow for one port.
type Manager struct {
	stateDir string
	logger   *slog.Logger
	client   *http.Client
}

// NewManager builds a lifecycle manager rooted at the state directory.
func NewManager(stateDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stateDir: stateDir,
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (m *Manager) registryPath() string {
	return filepath.Join(m.stateDir, "state", "managed-pids.json")
}

// pidRegistry maps listen port to the owning gateway pid.
type pidRegistry map[string]int

func (m *Manager) loadRegistry() pidRegistry {
	reg := pidRegistry{}
	data, err := os.ReadFile(m.registryPath())
	if err != nil {
		return reg
	}
	_ = json.Unmarshal(data, &reg)
	return reg
}

func (m *Manager) saveRegistry(reg pidRegistry) error {
	path := m.registryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Register records this process as the owner of the port.
func (m *Manager) Register(port int) error {
	reg := m.loadRegistry()
	reg[strconv.Itoa(port)] = os.Getpid()
	return m.saveRegistry(reg)
}

// Unregister removes this process's claim on the port; ownership claimed by
// another pid in the meantime is left alone.
func (m *Manager) Unregister(port int) {
	reg := m.loadRegistry()
	key := strconv.Itoa(port)
	if reg[key] == os.Getpid() {
		delete(reg, key)
		if err := m.saveRegistry(reg); err != nil {
			m.logger.Warn("pid registry update failed", slog.String("error", err.Error()))
		}
	}
}

// portOccupied reports whether something is listening on the port.
func portOccupied(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// EnsurePort makes the port available for this process. Without restart it
// fails fast when the port is held; with restart it takes the previous
// instance down via shutdown endpoint, then SIGTERM, then SIGKILL.
func (m *Manager) EnsurePort(ctx context.Context, port int, restart bool) error {
	if !portOccupied(port) {
		m.logger.Info("port check", slog.Int("port", port), slog.String("port_check_result", "free"))
		return nil
	}
	if !restart {
		m.logger.Error("port check", slog.Int("port", port),
			slog.String("port_check_result", "occupied_no_restart"))
		return fmt.Errorf("port %d is already in use; pass --restart to take over", port)
	}
	return m.takeOver(ctx, port)
}

func (m *Manager) takeOver(ctx context.Context, port int) error {
	stopTimeout := envDuration("ROUTECODEX_STOP_TIMEOUT_MS", defaultStopTimeout)
	killTimeout := envDuration("ROUTECODEX_KILL_TIMEOUT_MS", defaultKillTimeout)

	pid := m.loadRegistry()[strconv.Itoa(port)]
	if pid == os.Getpid() {
		// Stale self-registration from a previous run of the same pid
		// value; never signal ourselves.
		pid = 0
	}

	m.logger.Info("port occupied, requesting shutdown",
		slog.Int("port", port), slog.Int("previous_pid", pid))
	m.requestShutdown(ctx, port)
	if m.awaitFree(ctx, port, stopTimeout) {
		return nil
	}

	if pid > 0 {
		if os.Getenv("ROUTECODEX_BUILD_RESTART_ONLY") != "" {
			// Build-restart mode hands the old instance a SIGUSR2 and
			// expects it to re-exec itself; we must not claim the port.
			m.logger.Info("sending SIGUSR2 for build restart", slog.Int("pid", pid))
			_ = syscall.Kill(pid, syscall.SIGUSR2)
			return fmt.Errorf("build restart signalled to pid %d", pid)
		}
		m.logger.Warn("shutdown endpoint ineffective, sending SIGTERM", slog.Int("pid", pid))
		_ = syscall.Kill(pid, syscall.SIGTERM)
		if m.awaitFree(ctx, port, killTimeout) {
			return nil
		}
		m.logger.Warn("SIGTERM ineffective, sending SIGKILL", slog.Int("pid", pid))
		_ = syscall.Kill(pid, syscall.SIGKILL)
		if m.awaitFree(ctx, port, killTimeout) {
			return nil
		}
	}
	return fmt.Errorf("port %d still occupied after takeover attempts", port)
}

// requestShutdown asks the running instance to stop, identifying the
// caller for the audit log on the other side.
func (m *Manager) requestShutdown(ctx context.Context, port int) {
	url := fmt.Sprintf("http://127.0.0.1:%d/shutdown", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("x-routecodex-stop-caller-pid", strconv.Itoa(os.Getpid()))
	req.Header.Set("x-routecodex-stop-caller-name", filepath.Base(os.Args[0]))
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("shutdown request failed", slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
}

func (m *Manager) awaitFree(ctx context.Context, port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !portOccupied(port) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return !portOccupied(port)
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
