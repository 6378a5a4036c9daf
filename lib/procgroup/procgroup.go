// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// Process is a started child that leads its own process group.
type Process struct {
	command *exec.Cmd
	done    chan struct{}

	// mu orders signals against the reap in Wait. Until the leader is
	// reaped its zombie holds the group ID; after that the ID can be
	// reused and the group is no longer signalled.
	mu       sync.Mutex
	reaped   bool
	reapOnce sync.Once
	waitErr  error
}

// Start sets command up as a process group leader and starts it.
// Callers must not call command.Wait themselves.
func Start(command *exec.Cmd) (*Process, error) {
	if command.SysProcAttr == nil {
		command.SysProcAttr = &unix.SysProcAttr{}
	}
	command.SysProcAttr.Setpgid = true

	if err := command.Start(); err != nil {
		return nil, err
	}
	process := &Process{command: command, done: make(chan struct{})}
	go process.awaitExit()
	return process, nil
}

// awaitExit blocks until the leader exits, leaving it unreaped.
func (p *Process) awaitExit() {
	defer close(p.done)
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, p.PID(), &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

// PID returns the leader's process ID, which is also the group ID.
func (p *Process) PID() int { return p.command.Process.Pid }

// Done is closed once the leader has exited. The leader is reaped by
// Wait.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports, without blocking, whether the leader has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Signal sends signal to every process in the group. A group with no
// members left is not an error, and once Wait has reaped the leader
// Signal does nothing.
func (p *Process) Signal(signal unix.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reaped {
		return nil
	}
	err := unix.Kill(-p.PID(), signal)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signalling process group %d: %w", p.PID(), err)
	}
	return nil
}

// Kill sends SIGKILL to the group. The group can outlive its leader,
// so Kill still reaches it after the leader has exited, as long as
// Wait has not been called yet.
func (p *Process) Kill() error {
	return p.Signal(unix.SIGKILL)
}

// Wait blocks until the leader has exited, reaps it, and returns its
// exit error. Call Kill first when the group must not outlive the
// leader.
func (p *Process) Wait() error {
	<-p.done
	p.reapOnce.Do(func() {
		p.mu.Lock()
		p.reaped = true
		p.mu.Unlock()
		p.waitErr = p.command.Wait()
	})
	return p.waitErr
}
