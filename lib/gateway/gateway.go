// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/cafelua/agentd/lib/clock"
)

// Defaults for the zero values in [Config].
const (
	DefaultPort            = 18789
	DefaultMinRuntimeMajor = 22
	DefaultProbeTimeout    = 2 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultPollAttempts    = 10
)

// SetupHint names the install step for a missing companion.
const SetupHint = "Run: config/scripts/setup-openclaw.sh"

var (
	// ErrRuntimeNotFound means no node binary of the required major
	// version exists on PATH or under the nvm directory.
	ErrRuntimeNotFound = errors.New("gateway runtime not found")

	// ErrCompanionMissing means the OpenClaw package is not installed
	// in the install directory.
	ErrCompanionMissing = errors.New("gateway companion not installed")
)

// Config configures a [Supervisor].
type Config struct {
	// InstallDir holds node_modules/.bin/openclaw, openclaw.json, and
	// gateway.lock. Required.
	InstallDir string

	// NVMDir is scanned for runtimes when PATH has no suitable node.
	NVMDir string

	// SearchPath is the PATH list searched for node. Empty means the
	// PATH environment variable.
	SearchPath string

	// Port is the gateway port. A gateway.port key in openclaw.json
	// takes precedence. Zero means DefaultPort.
	Port int

	MinRuntimeMajor int
	ProbeTimeout    time.Duration
	PollInterval    time.Duration
	PollAttempts    int

	// Prober overrides the HTTP probe built from Port.
	Prober Prober

	// Launcher starts the gateway. Nil means a CommandLauncher writing
	// to os.Stderr.
	Launcher Launcher

	// Clock paces the poll loop. Required.
	Clock clock.Clock

	Logger *slog.Logger
}

// Status is the outcome of [Supervisor.EnsureRunning].
type Status struct {
	// Reachable is the result of the last probe.
	Reachable bool `json:"running"`

	// Owned is true when this supervisor spawned the gateway and will
	// kill it at shutdown.
	Owned bool `json:"managed"`
}

// Supervisor attaches to or spawns the gateway.
type Supervisor struct {
	config Config
	port   int
	prober Prober
	logger *slog.Logger

	mu     sync.Mutex
	handle *handle
}

// handle is the gateway this supervisor knows about. process is nil
// for an attached gateway.
type handle struct {
	process Process
	owned   bool
}

// New validates config and reads the port override from
// openclaw.json. A malformed openclaw.json is an error; a missing one
// is not.
func New(config Config) (*Supervisor, error) {
	if config.InstallDir == "" {
		return nil, errors.New("gateway: InstallDir is required")
	}
	if config.Clock == nil {
		return nil, errors.New("gateway: Clock is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.MinRuntimeMajor == 0 {
		config.MinRuntimeMajor = DefaultMinRuntimeMajor
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.PollAttempts == 0 {
		config.PollAttempts = DefaultPollAttempts
	}
	if config.SearchPath == "" {
		config.SearchPath = os.Getenv("PATH")
	}
	if config.Launcher == nil {
		config.Launcher = &CommandLauncher{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	port := config.Port
	override, err := readPortOverride(ConfigPath(config.InstallDir))
	if err != nil {
		return nil, err
	}
	if override != 0 {
		port = override
	}

	prober := config.Prober
	if prober == nil {
		prober = NewHTTPProber(port, config.ProbeTimeout)
	}

	return &Supervisor{
		config: config,
		port:   port,
		prober: prober,
		logger: logger.With("component", "gateway", "port", port),
	}, nil
}

// CompanionPath is the OpenClaw entry point inside installDir.
func CompanionPath(installDir string) string {
	return filepath.Join(installDir, "node_modules", ".bin", "openclaw")
}

// ConfigPath is the OpenClaw configuration file inside installDir.
func ConfigPath(installDir string) string {
	return filepath.Join(installDir, "openclaw.json")
}

// Port returns the port the gateway is expected on.
func (s *Supervisor) Port() int { return s.port }

// Probe reports whether the gateway currently answers.
func (s *Supervisor) Probe(ctx context.Context) bool {
	return s.prober.Reachable(ctx)
}

// Owned reports whether Shutdown will kill a gateway.
func (s *Supervisor) Owned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && s.handle.owned
}

// EnsureRunning attaches to a reachable gateway or spawns one and
// waits for it to answer. It fails only when the gateway cannot be
// started at all; a spawned gateway that never answers within the
// poll budget is reported through Status.Reachable.
func (s *Supervisor) EnsureRunning(ctx context.Context) (Status, error) {
	if owned := s.ownedStatus(ctx); owned != nil {
		return *owned, nil
	}

	if s.Probe(ctx) {
		s.logger.Info("attached to running gateway")
		s.setHandle(&handle{})
		return Status{Reachable: true}, nil
	}

	runtime, err := resolveRuntime(ctx, s.config.SearchPath, s.config.NVMDir, s.config.MinRuntimeMajor)
	if err != nil {
		return Status{}, err
	}
	companion := CompanionPath(s.config.InstallDir)
	if !isExecutable(companion) {
		return Status{}, fmt.Errorf("%w: OpenClaw not installed at %s. %s", ErrCompanionMissing, companion, SetupHint)
	}

	lock, err := acquireLock(ctx, filepath.Join(s.config.InstallDir, "gateway.lock"))
	if err != nil {
		return Status{}, err
	}
	defer lock.release()

	// Another agentd may have spawned it while this one waited.
	if s.Probe(ctx) {
		s.logger.Info("attached to gateway started concurrently")
		s.setHandle(&handle{})
		return Status{Reachable: true}, nil
	}

	process, err := s.config.Launcher.Launch(ctx, LaunchSpec{
		Runtime: runtime,
		Args: []string{
			companion, "gateway", "run",
			"--bind", "loopback",
			"--port", strconv.Itoa(s.port),
		},
		Env: []string{"OPENCLAW_CONFIG_PATH=" + ConfigPath(s.config.InstallDir)},
	})
	if err != nil {
		return Status{}, err
	}
	s.setHandle(&handle{process: process, owned: true})
	s.logger.Info("gateway spawned", "pid", process.PID(), "runtime", runtime)

	for attempt := 1; attempt <= s.config.PollAttempts; attempt++ {
		s.config.Clock.Sleep(s.config.PollInterval)
		if s.Probe(ctx) {
			s.logger.Info("gateway ready", "attempts", attempt)
			return Status{Reachable: true, Owned: true}, nil
		}
	}
	s.logger.Warn("gateway did not answer during warmup", "attempts", s.config.PollAttempts)
	return Status{Owned: true}, nil
}

// ownedStatus returns the current status when this supervisor already
// owns a gateway, so repeated calls do not spawn a second one.
func (s *Supervisor) ownedStatus(ctx context.Context) *Status {
	s.mu.Lock()
	owned := s.handle != nil && s.handle.owned
	s.mu.Unlock()
	if !owned {
		return nil
	}
	return &Status{Reachable: s.Probe(ctx), Owned: true}
}

func (s *Supervisor) setHandle(h *handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// Shutdown kills the gateway if this supervisor spawned it. An attached
// gateway is left running. The kill happens outside the lock.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil || !h.owned {
		return
	}
	s.logger.Info("stopping gateway", "pid", h.process.PID())
	if err := h.process.Kill(); err != nil {
		s.logger.Warn("killing gateway", "pid", h.process.PID(), "error", err)
	}
	h.process.Wait()
}

// readPortOverride returns gateway.port from a JSONC openclaw.json, or
// zero when the file or key is absent.
func readPortOverride(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	var parsed struct {
		Gateway struct {
			Port int `json:"port"`
		} `json:"gateway"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &parsed); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return parsed.Gateway.Port, nil
}
