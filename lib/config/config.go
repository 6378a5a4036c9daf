// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by [Load] and [LoadFile].
const (
	EnvConfig       = "AGENTD_CONFIG"
	EnvAgentPath    = "CAFELUA_AGENT_PATH"
	EnvAgentScript  = "CAFELUA_AGENT_SCRIPT"
	EnvAgentRunner  = "CAFELUA_AGENT_RUNNER"
	workerStdioFlag = "--stdio"
)

// Config is the master configuration for agentd.
type Config struct {
	// Worker configures the supervised agent process.
	Worker WorkerConfig `yaml:"worker"`

	// Audit configures the audit event store.
	Audit AuditConfig `yaml:"audit"`

	// Gateway configures the OpenClaw gateway supervisor.
	Gateway GatewayConfig `yaml:"gateway"`
}

// WorkerConfig configures the agent worker process.
type WorkerConfig struct {
	// Command runs Script when Script is not TypeScript.
	// Default: node
	Command string `yaml:"command"`

	// Script is the worker entry point. Required for agentd run.
	Script string `yaml:"script"`

	// Runner runs .ts scripts as "<runner> tsx <script>".
	// Default: npx
	Runner string `yaml:"runner"`

	// Args are extra arguments placed after the script.
	Args []string `yaml:"args"`

	// Dir is the working directory. Empty means agentd's own.
	Dir string `yaml:"dir"`

	// SettleDelay is the pause between a restart and the resend.
	// Default: 300ms
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// AuditConfig configures the audit store.
type AuditConfig struct {
	// Path is the SQLite database file.
	// Default: ~/.cafelua/audit.db
	Path string `yaml:"path"`
}

// GatewayConfig configures the gateway supervisor.
type GatewayConfig struct {
	// Enabled turns gateway warmup on for agentd run.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Port is the loopback port. openclaw.json may override it.
	// Default: 18789
	Port int `yaml:"port"`

	// InstallDir holds the OpenClaw package and openclaw.json.
	// Default: ~/.cafelua/openclaw
	InstallDir string `yaml:"install_dir"`

	// NVMDir is scanned for node runtimes when PATH has none.
	// Default: ~/.config/nvm/versions/node
	NVMDir string `yaml:"nvm_dir"`

	// MinRuntimeMajor is the lowest acceptable node major version.
	// Default: 22
	MinRuntimeMajor int `yaml:"min_runtime_major"`

	// ProbeTimeout bounds each reachability probe.
	// Default: 2s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// PollInterval is the pause before each warmup probe.
	// Default: 500ms
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollAttempts bounds the warmup loop.
	// Default: 10
	PollAttempts int `yaml:"poll_attempts"`
}

// Default returns the configuration used when no file is given, and
// the base that a file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".cafelua")

	return &Config{
		Worker: WorkerConfig{
			Command:     "node",
			Runner:      "npx",
			SettleDelay: 300 * time.Millisecond,
		},
		Audit: AuditConfig{
			Path: filepath.Join(dataDir, "audit.db"),
		},
		Gateway: GatewayConfig{
			Enabled:         true,
			Port:            18789,
			InstallDir:      filepath.Join(dataDir, "openclaw"),
			NVMDir:          filepath.Join(homeDir, ".config", "nvm", "versions", "node"),
			MinRuntimeMajor: 22,
			ProbeTimeout:    2 * time.Second,
			PollInterval:    500 * time.Millisecond,
			PollAttempts:    10,
		},
	}
}

// Load loads the file at path, or at $AGENTD_CONFIG when path is empty.
// With neither, it returns [Default] with environment overrides
// applied.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		cfg := Default()
		cfg.applyEnvironment()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Keys the
// file omits keep their defaults; unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.expandVariables()
	cfg.applyEnvironment()

	return cfg, nil
}

// loadFile decodes a single configuration file, merging into the
// current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironment applies the CAFELUA_AGENT_* overrides.
func (c *Config) applyEnvironment() {
	if value := os.Getenv(EnvAgentPath); value != "" {
		c.Worker.Command = value
	}
	if value := os.Getenv(EnvAgentScript); value != "" {
		c.Worker.Script = value
	}
	if value := os.Getenv(EnvAgentRunner); value != "" {
		c.Worker.Runner = value
	}
}

// expandVariables expands ${VAR}, ${VAR:-default}, and ~/ in paths.
func (c *Config) expandVariables() {
	c.Worker.Script = expandPath(c.Worker.Script)
	c.Worker.Dir = expandPath(c.Worker.Dir)
	c.Audit.Path = expandPath(c.Audit.Path)
	c.Gateway.InstallDir = expandPath(c.Gateway.InstallDir)
	c.Gateway.NVMDir = expandPath(c.Gateway.NVMDir)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandPath(s string) string {
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = home + s[1:]
		}
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors. It does not require
// worker.script, which only agentd run needs; see
// [WorkerConfig.Argv].
func (c *Config) Validate() error {
	var errs []error

	if c.Worker.Command == "" {
		errs = append(errs, errors.New("worker.command is required"))
	}
	if c.Worker.SettleDelay < 0 {
		errs = append(errs, errors.New("worker.settle_delay must not be negative"))
	}
	if c.Audit.Path == "" {
		errs = append(errs, errors.New("audit.path is required"))
	}

	if c.Gateway.Enabled {
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
		}
		if c.Gateway.InstallDir == "" {
			errs = append(errs, errors.New("gateway.install_dir is required"))
		}
		if c.Gateway.MinRuntimeMajor < 1 {
			errs = append(errs, errors.New("gateway.min_runtime_major must be positive"))
		}
		if c.Gateway.ProbeTimeout <= 0 {
			errs = append(errs, errors.New("gateway.probe_timeout must be positive"))
		}
		if c.Gateway.PollInterval <= 0 {
			errs = append(errs, errors.New("gateway.poll_interval must be positive"))
		}
		if c.Gateway.PollAttempts < 1 {
			errs = append(errs, errors.New("gateway.poll_attempts must be positive"))
		}
	}

	return errors.Join(errs...)
}

// Argv returns the executable and arguments that start the worker.
// TypeScript scripts run through "<runner> tsx"; anything else runs
// through Command directly. The worker always gets --stdio.
func (w WorkerConfig) Argv() (string, []string, error) {
	if w.Script == "" {
		return "", nil, fmt.Errorf("worker.script is not set (set it in the config file or %s)", EnvAgentScript)
	}

	var executable string
	var args []string
	if strings.HasSuffix(w.Script, ".ts") {
		if w.Runner == "" {
			return "", nil, errors.New("worker.runner is required for .ts scripts")
		}
		executable = w.Runner
		args = append(args, "tsx", w.Script)
	} else {
		executable = w.Command
		args = append(args, w.Script)
	}
	args = append(args, w.Args...)
	args = append(args, workerStdioFlag)
	return executable, args, nil
}
