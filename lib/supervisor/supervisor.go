// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cafelua/agentd/lib/clock"
	"github.com/cafelua/agentd/lib/ipc"
	"github.com/cafelua/agentd/lib/relay"
)

// DefaultSettleDelay is how long Send waits after spawning a
// replacement worker before resending, giving the worker time to set
// up its stdin reader.
const DefaultSettleDelay = 300 * time.Millisecond

var (
	// ErrNotRunning means no worker is live. Send treats it as a
	// transport failure and restarts.
	ErrNotRunning = errors.New("supervisor: worker is not running")

	// ErrClosed is returned by every operation after Shutdown.
	ErrClosed = errors.New("supervisor: shut down")
)

// DecisionRecorder audits outgoing approval decisions. It must absorb
// its own failures.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, response ipc.ApprovalResponse)
}

// Config configures a Supervisor.
type Config struct {
	// Spawner starts workers. Required.
	Spawner Spawner

	// Clock paces the settle delay. Required.
	Clock clock.Clock

	// Sink and Subscriber receive every worker's decoded output, in
	// that order, through a relay started per worker. Both optional.
	Sink       relay.Sink
	Subscriber relay.Subscriber

	// Decisions records approval responses before they are sent.
	// Optional.
	Decisions DecisionRecorder

	// SettleDelay overrides DefaultSettleDelay when positive.
	SettleDelay time.Duration

	Logger *slog.Logger
}

// Supervisor owns the worker slot. Safe for concurrent use.
type Supervisor struct {
	spawner     Spawner
	clock       clock.Clock
	sink        relay.Sink
	subscriber  relay.Subscriber
	decisions   DecisionRecorder
	settleDelay time.Duration
	logger      *slog.Logger

	// restartMu serializes retire-then-spawn sequences so that only one
	// replacement is spawned and the old relay has drained first.
	restartMu sync.Mutex

	// mu guards the fields below. Send holds it across the liveness
	// check and the stdin write.
	mu         sync.Mutex
	current    *worker
	generation uint64
	closed     bool
}

type worker struct {
	process    Process
	stdout     io.ReadCloser
	relay      *relay.Relay
	generation uint64
}

// New creates a Supervisor with no worker. Call Start to spawn the
// first one, or let the first Send do it.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Spawner == nil {
		return nil, fmt.Errorf("supervisor: Spawner is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("supervisor: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	settleDelay := cfg.SettleDelay
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	return &Supervisor{
		spawner:     cfg.Spawner,
		clock:       cfg.Clock,
		sink:        cfg.Sink,
		subscriber:  cfg.Subscriber,
		decisions:   cfg.Decisions,
		settleDelay: settleDelay,
		logger:      logger,
	}, nil
}

// Start spawns the first worker. It does nothing if a worker is
// already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	return s.spawnIfEmpty(ctx)
}

// Running reports whether a worker is installed and has not exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.process.Exited()
}

// Generation counts the workers installed so far.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Send writes message to the worker as one line. If the worker is gone
// or the write fails, Send restarts the worker once, waits the settle
// delay, and writes the message again; a failure of that cycle is
// returned. Send is not cancellable once the write or restart has
// begun.
func (s *Supervisor) Send(ctx context.Context, message []byte) error {
	line, err := frame(message)
	if err != nil {
		return err
	}

	if s.decisions != nil {
		if decoded, err := ipc.Decode(line); err == nil {
			if response, ok := decoded.AsApprovalResponse(); ok {
				s.decisions.RecordDecision(ctx, response)
			}
		}
	}

	stale, err := s.deliver(line)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return err
	}

	s.logger.Warn("worker unavailable, restarting", "error", err)
	if err := s.replace(ctx, stale); err != nil {
		return fmt.Errorf("restarting worker: %w", err)
	}

	s.clock.Sleep(s.settleDelay)

	stale, err = s.deliver(line)
	if err != nil {
		s.retire(stale, "resend failed")
		s.logger.Error("resend after restart failed", "error", err)
		return fmt.Errorf("resending after restart: %w", err)
	}
	s.logger.Info("message resent after restart")
	return nil
}

// CancelStream asks the worker to stop the in-flight response for
// requestID.
func (s *Supervisor) CancelStream(ctx context.Context, requestID string) error {
	line, err := ipc.NewCancelStream(requestID)
	if err != nil {
		return fmt.Errorf("supervisor: encoding cancel_stream: %w", err)
	}
	return s.Send(ctx, line)
}

// Restart replaces the worker unconditionally: the current worker, if
// any, is retired and a new one is spawned.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.current
	s.current = nil
	s.mu.Unlock()

	s.retire(old, "restart requested")
	return s.spawnIfEmpty(ctx)
}

// Shutdown retires the worker and makes every later call fail with
// ErrClosed. The slot lock is held only to take the worker out; the
// kill and drain happen outside it.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	old := s.current
	s.current = nil
	s.mu.Unlock()

	s.retire(old, "shutdown")
}

// frame turns message into exactly one protocol line.
func frame(message []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("supervisor: empty message")
	}
	if bytes.ContainsAny(trimmed, "\r\n") {
		var compact bytes.Buffer
		if err := json.Compact(&compact, trimmed); err != nil {
			return nil, fmt.Errorf("supervisor: multi-line message is not JSON: %w", err)
		}
		trimmed = compact.Bytes()
	}
	line := make([]byte, 0, len(trimmed)+1)
	return append(append(line, trimmed...), '\n'), nil
}

// deliver performs the liveness check and the write under the slot
// lock. On a transport failure the worker is removed from the slot and
// returned so the caller can retire it outside the lock.
func (s *Supervisor) deliver(line []byte) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	current := s.current
	if current == nil {
		return nil, ErrNotRunning
	}
	if current.process.Exited() {
		s.current = nil
		return current, fmt.Errorf("worker %d (generation %d) exited", current.process.PID(), current.generation)
	}
	if _, err := current.process.Stdin().Write(line); err != nil {
		s.current = nil
		return current, fmt.Errorf("writing to worker %d: %w", current.process.PID(), err)
	}
	return nil, nil
}

// replace retires stale and installs a new worker, unless another
// caller has already installed one in the meantime.
func (s *Supervisor) replace(ctx context.Context, stale *worker) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	s.retire(stale, "unavailable")
	return s.spawnIfEmpty(ctx)
}

// spawnIfEmpty spawns and installs a worker if the slot is empty. The
// caller holds restartMu, so nothing else installs a worker while the
// spawn runs outside mu.
func (s *Supervisor) spawnIfEmpty(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil
	}
	generation := s.generation + 1
	s.mu.Unlock()

	process, stdout, err := s.spawner.Spawn(ctx)
	if err != nil {
		s.logger.Error("worker spawn failed", "error", err)
		return fmt.Errorf("spawning worker: %w", err)
	}
	logger := s.logger.With("pid", process.PID(), "generation", generation)
	spawned := &worker{
		process:    process,
		stdout:     stdout,
		generation: generation,
		relay: relay.Start(context.WithoutCancel(ctx), stdout, relay.Config{
			Sink:       s.sink,
			Subscriber: s.subscriber,
			Logger:     logger,
		}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.retire(spawned, "shut down during spawn")
		return ErrClosed
	}
	s.generation = generation
	s.current = spawned
	s.mu.Unlock()

	logger.Info("worker started")
	return nil
}

// retire kills a worker that is no longer in the slot and waits for its
// relay to deliver everything the worker wrote.
func (s *Supervisor) retire(w *worker, reason string) {
	if w == nil {
		return
	}
	logger := s.logger.With("pid", w.process.PID(), "generation", w.generation, "reason", reason)

	if err := w.process.Kill(); err != nil {
		logger.Warn("killing worker failed", "error", err)
	}
	w.relay.Wait()
	w.stdout.Close()

	if err := w.process.Wait(); err != nil {
		logger.Info("worker stopped", "exit", err.Error())
	} else {
		logger.Info("worker stopped")
	}
}
