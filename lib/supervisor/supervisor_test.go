// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cafelua/agentd/lib/clock"
	"github.com/cafelua/agentd/lib/ipc"
	"github.com/cafelua/agentd/lib/relay"
	"github.com/cafelua/agentd/lib/testutil"
)

// journal is a shared, ordered record of what the fakes observed.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) index(entry string) int {
	for i, candidate := range j.snapshot() {
		if candidate == entry {
			return i
		}
	}
	return -1
}

type fakeProcess struct {
	pid        int
	journal    *journal
	failWrites bool

	mu      sync.Mutex
	written bytes.Buffer
	exited  bool

	stdout     *io.PipeWriter
	killed     atomic.Bool
	killedOnce sync.Once
}

func (p *fakeProcess) PID() int         { return p.pid }
func (p *fakeProcess) Stdin() io.Writer { return (*fakeStdin)(p) }

func (p *fakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// crash marks the process dead without closing its stdout, the way a
// worker killed from outside looks before the relay sees EOF.
func (p *fakeProcess) crash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
}

func (p *fakeProcess) Kill() error {
	p.killedOnce.Do(func() {
		p.killed.Store(true)
		p.crash()
		p.stdout.Close()
		p.journal.add("kill:%d", p.pid)
	})
	return nil
}

func (p *fakeProcess) Wait() error { return nil }

func (p *fakeProcess) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Split(strings.TrimSuffix(p.written.String(), "\n"), "\n")
}

func (p *fakeProcess) emit(line string) {
	fmt.Fprintln(p.stdout, line)
}

type fakeStdin fakeProcess

func (s *fakeStdin) Write(data []byte) (int, error) {
	p := (*fakeProcess)(s)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrites {
		return 0, errors.New("broken pipe")
	}
	p.journal.add("write:%d:%s", p.pid, strings.TrimSpace(string(data)))
	return p.written.Write(data)
}

type fakeSpawner struct {
	journal *journal

	mu         sync.Mutex
	processes  []*fakeProcess
	attempts   int
	failAfter  int // spawns beyond this count fail; 0 means never
	failWrites bool

	// When release is set, Spawn signals entered and blocks until
	// release is closed.
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSpawner) Spawn(context.Context) (Process, io.ReadCloser, error) {
	if s.release != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failAfter > 0 && s.attempts > s.failAfter {
		s.journal.add("spawn-failed")
		return nil, nil, errors.New("node: not found")
	}
	reader, writer := io.Pipe()
	process := &fakeProcess{
		pid:        100 + s.attempts,
		journal:    s.journal,
		failWrites: s.failWrites,
		stdout:     writer,
	}
	s.processes = append(s.processes, process)
	s.journal.add("spawn:%d", process.pid)
	return process, reader, nil
}

func (s *fakeSpawner) spawned() []*fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProcess(nil), s.processes...)
}

func (s *fakeSpawner) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type fakeDecisions struct{ journal *journal }

func (f fakeDecisions) RecordDecision(_ context.Context, response ipc.ApprovalResponse) {
	f.journal.add("decision:%s:%s", response.RequestID, response.Decision)
}

type harness struct {
	supervisor *Supervisor
	spawner    *fakeSpawner
	clock      *clock.FakeClock
	journal    *journal
}

func newHarness(t *testing.T, configure func(*fakeSpawner)) *harness {
	t.Helper()
	record := &journal{}
	spawner := &fakeSpawner{journal: record}
	if configure != nil {
		configure(spawner)
	}
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	supervisor, err := New(Config{
		Spawner:   spawner,
		Clock:     fake,
		Decisions: fakeDecisions{record},
		Subscriber: relay.SubscriberFunc(func(message ipc.Message) {
			record.add("deliver:%s", message.RequestID())
		}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(supervisor.Shutdown)
	return &harness{supervisor: supervisor, spawner: spawner, clock: fake, journal: record}
}

// sendAsync runs Send in a goroutine and returns its result channel.
func (h *harness) sendAsync(message string) <-chan error {
	result := make(chan error, 1)
	go func() { result <- h.supervisor.Send(context.Background(), []byte(message)) }()
	return result
}

// settle waits for Send to reach the settle delay and releases it.
func (h *harness) settle() {
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultSettleDelay)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Clock: clock.Real()}); err == nil {
		t.Error("New without Spawner succeeded")
	}
	if _, err := New(Config{Spawner: &fakeSpawner{}}); err == nil {
		t.Error("New without Clock succeeded")
	}
}

func TestSendToLiveWorker(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.supervisor.Send(context.Background(), []byte(`{"type":"chat_request","requestId":"req-1"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	processes := h.spawner.spawned()
	if len(processes) != 1 {
		t.Fatalf("spawned %d workers, want 1", len(processes))
	}
	if lines := processes[0].lines(); len(lines) != 1 || lines[0] != `{"type":"chat_request","requestId":"req-1"}` {
		t.Errorf("worker stdin = %q", lines)
	}
	if h.clock.PendingCount() != 0 {
		t.Error("Send to a live worker waited on the clock")
	}
}

func TestSendFramesMultilineJSON(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	if err := h.supervisor.Send(context.Background(), []byte("{\n  \"type\": \"chat_request\",\n  \"requestId\": \"r\"\n}\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if lines := h.spawner.spawned()[0].lines(); len(lines) != 1 || lines[0] != `{"type":"chat_request","requestId":"r"}` {
		t.Errorf("worker stdin = %q", lines)
	}

	if err := h.supervisor.Send(context.Background(), []byte("not\njson")); err == nil {
		t.Error("multi-line non-JSON message accepted")
	}
	if err := h.supervisor.Send(context.Background(), []byte("  ")); err == nil {
		t.Error("empty message accepted")
	}
}

func TestCrashedWorkerRestartedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	first := h.spawner.spawned()[0]
	first.crash()

	result := h.sendAsync(`{"type":"chat_request","requestId":"req-2"}`)
	h.settle()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Send after restart"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	processes := h.spawner.spawned()
	if len(processes) != 2 {
		t.Fatalf("spawned %d workers, want 2", len(processes))
	}
	if !first.killed.Load() {
		t.Error("crashed worker was not killed")
	}
	if lines := processes[1].lines(); len(lines) != 1 || lines[0] != `{"type":"chat_request","requestId":"req-2"}` {
		t.Errorf("replacement stdin = %q", lines)
	}
	if first.written.Len() != 0 {
		t.Errorf("crashed worker received %q", first.written.String())
	}
	if h.supervisor.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", h.supervisor.Generation())
	}
}

func TestBrokenPipeRestartedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	first := h.spawner.spawned()[0]
	first.mu.Lock()
	first.failWrites = true
	first.mu.Unlock()

	result := h.sendAsync(`{"type":"chat_request","requestId":"req-3"}`)
	h.settle()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Send after restart"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if count := len(h.spawner.spawned()); count != 2 {
		t.Errorf("spawned %d workers, want 2", count)
	}
}

func TestRespawnFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *fakeSpawner) { s.failAfter = 1 })
	h.supervisor.Start(context.Background())
	h.spawner.spawned()[0].crash()

	err := h.supervisor.Send(context.Background(), []byte(`{"type":"chat_request","requestId":"req-4"}`))
	if err == nil {
		t.Fatal("Send succeeded with a failing spawner")
	}
	if attempts := h.spawner.attemptCount(); attempts != 2 {
		t.Errorf("spawn attempts = %d, want 2 (initial + one restart)", attempts)
	}
	if h.clock.PendingCount() != 0 {
		t.Error("failed restart still waited the settle delay")
	}

	// The next Send gets its own single attempt, no more.
	if err := h.supervisor.Send(context.Background(), []byte(`{"type":"x"}`)); err == nil {
		t.Fatal("second Send succeeded with a failing spawner")
	}
	if attempts := h.spawner.attemptCount(); attempts != 3 {
		t.Errorf("spawn attempts = %d, want 3", attempts)
	}
}

func TestResendFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *fakeSpawner) { s.failWrites = true })
	h.supervisor.Start(context.Background())

	result := h.sendAsync(`{"type":"chat_request","requestId":"req-5"}`)
	h.settle()
	err := testutil.RequireReceive(t, result, 5*time.Second, "Send result")
	if err == nil {
		t.Fatal("Send succeeded although every write fails")
	}
	if !strings.Contains(err.Error(), "resending after restart") {
		t.Errorf("error = %v", err)
	}
	processes := h.spawner.spawned()
	if len(processes) != 2 {
		t.Fatalf("spawned %d workers, want 2", len(processes))
	}
	if !processes[1].killed.Load() {
		t.Error("replacement worker that failed the resend was not retired")
	}
	if h.supervisor.Running() {
		t.Error("supervisor reports a running worker after the failed resend")
	}
}

func TestSendWithoutInitialWorker(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	result := h.sendAsync(`{"type":"chat_request","requestId":"req-6"}`)
	h.settle()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Send result"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if count := len(h.spawner.spawned()); count != 1 {
		t.Errorf("spawned %d workers, want 1", count)
	}
}

func TestApprovalResponseAuditedBeforeWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	message := `{"type":"approval_response","requestId":"req-7","toolCallId":"c1","decision":"once"}`
	if err := h.supervisor.Send(context.Background(), []byte(message)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	decision := h.journal.index("decision:req-7:once")
	write := h.journal.index("write:101:" + message)
	if decision < 0 || write < 0 || decision > write {
		t.Errorf("journal = %v, want decision recorded before the write", h.journal.snapshot())
	}

	h.supervisor.Send(context.Background(), []byte(`{"type":"chat_request","requestId":"req-8"}`))
	for _, entry := range h.journal.snapshot() {
		if strings.HasPrefix(entry, "decision:req-8") {
			t.Error("non-approval message recorded as a decision")
		}
	}
}

func TestCancelStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	if err := h.supervisor.CancelStream(context.Background(), "req-9"); err != nil {
		t.Fatalf("CancelStream: %v", err)
	}
	if lines := h.spawner.spawned()[0].lines(); lines[0] != `{"type":"cancel_stream","requestId":"req-9"}` {
		t.Errorf("worker stdin = %q", lines)
	}
}

func TestOutputRelayedPerWorker(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	first := h.spawner.spawned()[0]
	first.emit(`{"type":"text","requestId":"from-first"}`)
	first.crash()

	result := h.sendAsync(`{"type":"chat_request","requestId":"req-10"}`)
	h.settle()
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Send result"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	second := h.spawner.spawned()[1]
	second.emit(`{"type":"text","requestId":"from-second"}`)
	h.supervisor.Shutdown()

	delivered := h.journal.index("deliver:from-first")
	spawned := h.journal.index("spawn:102")
	if delivered < 0 || spawned < 0 || delivered > spawned {
		t.Errorf("journal = %v, want the first worker's output drained before the respawn", h.journal.snapshot())
	}
	if h.journal.index("deliver:from-second") < 0 {
		t.Errorf("journal = %v, want output from the second worker", h.journal.snapshot())
	}
}

func TestRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	if err := h.supervisor.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	processes := h.spawner.spawned()
	if len(processes) != 2 || !processes[0].killed.Load() || processes[1].killed.Load() {
		t.Fatalf("after Restart: %d workers, first killed %v", len(processes), processes[0].killed.Load())
	}
	if !h.supervisor.Running() {
		t.Error("not running after Restart")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for range 3 {
		if err := h.supervisor.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	if count := len(h.spawner.spawned()); count != 1 {
		t.Errorf("spawned %d workers, want 1", count)
	}
}

func TestSlotUsableWhileSpawning(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h := newHarness(t, func(s *fakeSpawner) {
		s.entered = entered
		s.release = release
	})

	started := make(chan error, 1)
	go func() { started <- h.supervisor.Start(context.Background()) }()
	testutil.RequireReceive(t, entered, 5*time.Second, "spawn starting")

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if h.supervisor.Running() {
			t.Error("Running() = true before the spawn finished")
		}
		if generation := h.supervisor.Generation(); generation != 0 {
			t.Errorf("Generation() = %d during the first spawn, want 0", generation)
		}
		h.supervisor.Shutdown()
	}()
	testutil.RequireClosed(t, stopped, 5*time.Second, "Shutdown while a spawn is in flight")

	close(release)
	if err := testutil.RequireReceive(t, started, 5*time.Second, "Start returning"); !errors.Is(err, ErrClosed) {
		t.Errorf("Start = %v, want ErrClosed after a concurrent Shutdown", err)
	}
	processes := h.spawner.spawned()
	if len(processes) != 1 || !processes[0].killed.Load() {
		t.Fatalf("worker spawned during Shutdown was not killed")
	}
	if h.supervisor.Running() || h.supervisor.Generation() != 0 {
		t.Errorf("worker spawned during Shutdown was installed")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	h.supervisor.Shutdown()

	if !h.spawner.spawned()[0].killed.Load() {
		t.Error("worker not killed on Shutdown")
	}
	if err := h.supervisor.Send(context.Background(), []byte(`{"type":"x"}`)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Shutdown = %v, want ErrClosed", err)
	}
	if err := h.supervisor.Restart(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Restart after Shutdown = %v, want ErrClosed", err)
	}
	if count := h.spawner.attemptCount(); count != 1 {
		t.Errorf("spawn attempts = %d after Shutdown, want 1", count)
	}
	h.supervisor.Shutdown()
}

func TestConcurrentSendersShareOneRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.supervisor.Start(context.Background())
	h.spawner.spawned()[0].crash()

	const senders = 4
	results := make([]<-chan error, senders)
	for i := range senders {
		results[i] = h.sendAsync(fmt.Sprintf(`{"type":"chat_request","requestId":"c%d"}`, i))
	}

	// Senders that fail over sleep the settle delay; senders arriving
	// after the replacement is installed write directly. Keep releasing
	// sleepers until everyone has returned.
	deadline := time.Now().Add(10 * time.Second) //nolint:realclock test hang prevention
	finished := 0
	for finished < senders {
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("only %d of %d senders returned", finished, senders)
		}
		if h.clock.PendingCount() > 0 {
			h.clock.Advance(DefaultSettleDelay)
		}
		for i := range senders {
			if results[i] == nil {
				continue
			}
			select {
			case err := <-results[i]:
				if err != nil {
					t.Errorf("sender %d: %v", i, err)
				}
				results[i] = nil
				finished++
			default:
			}
		}
		time.Sleep(time.Millisecond) //nolint:realclock polling fake-clock sleepers
	}

	if count := len(h.spawner.spawned()); count != 2 {
		t.Errorf("spawned %d workers, want 2", count)
	}
	if lines := h.spawner.spawned()[1].lines(); len(lines) != senders {
		t.Errorf("replacement received %d lines, want %d", len(lines), senders)
	}
}
