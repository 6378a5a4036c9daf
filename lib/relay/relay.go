// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/cafelua/agentd/lib/ipc"
)

// Sink receives each decoded message before the subscriber. It must not
// fail the relay: implementations absorb their own errors.
type Sink interface {
	Observe(ctx context.Context, message ipc.Message)
}

// Subscriber receives each decoded message after the sink.
type Subscriber interface {
	Deliver(message ipc.Message)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(message ipc.Message)

// Deliver calls f(message).
func (f SubscriberFunc) Deliver(message ipc.Message) { f(message) }

// Config configures a Relay. Sink and Subscriber are optional.
type Config struct {
	Sink       Sink
	Subscriber Subscriber
	Logger     *slog.Logger

	// QueueDepth is the number of decoded messages buffered between
	// the reader and the dispatcher. Zero means 64.
	QueueDepth int
}

// Counts reports what a relay did with the lines it read.
type Counts struct {
	Lines     int64
	Skipped   int64
	Dropped   int64
	Delivered int64
}

// Relay reads one worker's output.
type Relay struct {
	done chan struct{}

	lines     atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
}

// Start begins relaying stream and returns immediately. ctx is passed
// to the sink; cancelling it does not stop the relay, closing the
// stream does.
func Start(ctx context.Context, stream io.Reader, cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}

	relay := &Relay{done: make(chan struct{})}
	queue := make(chan ipc.Message, depth)

	go relay.read(stream, queue, logger)
	go relay.dispatch(ctx, queue, cfg.Sink, cfg.Subscriber, logger)

	return relay
}

// Done is closed once the stream has ended and every queued message
// has been dispatched.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Wait blocks until Done is closed.
func (r *Relay) Wait() { <-r.done }

// Counts returns the relay's line counters so far.
func (r *Relay) Counts() Counts {
	return Counts{
		Lines:     r.lines.Load(),
		Skipped:   r.skipped.Load(),
		Dropped:   r.dropped.Load(),
		Delivered: r.delivered.Load(),
	}
}

func (r *Relay) read(stream io.Reader, queue chan<- ipc.Message, logger *slog.Logger) {
	defer close(queue)

	reader := bufio.NewReader(stream)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			r.handleLine(line, queue, logger)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("worker output read failed", "error", err)
			}
			return
		}
	}
}

func (r *Relay) handleLine(line []byte, queue chan<- ipc.Message, logger *slog.Logger) {
	r.lines.Add(1)
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		r.skipped.Add(1)
		return
	}
	message, err := ipc.Decode(line)
	if err != nil {
		r.dropped.Add(1)
		logger.Warn("dropping malformed worker output line", "error", err, "bytes", len(line))
		return
	}
	queue <- message
}

func (r *Relay) dispatch(ctx context.Context, queue <-chan ipc.Message, sink Sink, subscriber Subscriber, logger *slog.Logger) {
	defer close(r.done)

	for message := range queue {
		if sink != nil {
			sink.Observe(ctx, message)
		}
		if subscriber != nil {
			subscriber.Deliver(message)
		}
		r.delivered.Add(1)
	}

	counts := r.Counts()
	logger.Info("worker output relay ended",
		"lines", counts.Lines,
		"delivered", counts.Delivered,
		"skipped", counts.Skipped,
		"dropped", counts.Dropped,
	)
}
