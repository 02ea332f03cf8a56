// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/atdrop/atdrop/lib/clock"
)

// Errors reported by degraded assembly. Both accompany a non-nil
// partial Assembly.
var (
	// ErrIncomplete means the channel closed before the end marker
	// arrived.
	ErrIncomplete = errors.New("transfer: channel closed before end of stream")

	// ErrStalled means no message arrived within the inactivity
	// timeout.
	ErrStalled = errors.New("transfer: receive stalled")
)

// Assembly is the received payload. When Complete is false the Data
// holds whatever chunks arrived before the stream was cut short.
type Assembly struct {
	Data []byte
	Size int64
	// Complete reports that the end marker was seen.
	Complete bool
	// Digest is the BLAKE3 hash of Data, for out-of-band comparison
	// with the sender's.
	Digest [32]byte
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Channel is the data channel to receive on. The receiver must be
	// constructed before the peer starts sending.
	Channel DataChannel
	// Clock drives the inactivity timer. If nil, the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Timeout overrides ReceiveTimeout when positive.
	Timeout time.Duration
	// Progress, when set, is called after each chunk with the running
	// byte count.
	Progress func(received int64)
}

// Receiver accumulates inbound chunks and assembles the payload.
// Construct it before the peer's first message; registration replaces
// any callbacks previously set on the channel.
type Receiver struct {
	channel  DataChannel
	logger   *slog.Logger
	progress func(received int64)

	mu     sync.Mutex
	data   bytes.Buffer
	chunks int

	timer *clock.Timer
	reset time.Duration

	finishOnce sync.Once
	done       chan struct{}
	assembly   *Assembly
	err        error
}

// NewReceiver wires a receiver onto the channel and arms the
// inactivity timer.
func NewReceiver(config ReceiverConfig) *Receiver {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = ReceiveTimeout
	}

	r := &Receiver{
		channel:  config.Channel,
		logger:   logger,
		progress: config.Progress,
		reset:    timeout,
		done:     make(chan struct{}),
	}
	// The timer must exist before any callback can fire: both paths
	// touch it.
	r.timer = c.AfterFunc(timeout, func() {
		r.finish(false, ErrStalled)
	})
	r.channel.OnMessage(r.onMessage)
	r.channel.OnClose(func() {
		r.finish(false, ErrIncomplete)
	})
	return r
}

// Wait blocks until the stream completes, degrades, or the context is
// cancelled. The Assembly is non-nil in all three cases; the error is
// nil only for a complete stream.
func (r *Receiver) Wait(ctx context.Context) (*Assembly, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		r.finish(false, ctx.Err())
		<-r.done
	}
	return r.assembly, r.err
}

func (r *Receiver) onMessage(message Message) {
	r.timer.Reset(r.reset)

	if message.Text {
		var control controlMessage
		if err := json.Unmarshal(message.Data, &control); err != nil || control.Type != "EOF" {
			// Unknown control messages are ignored so newer peers can
			// add them without breaking older receivers.
			r.logger.Debug("ignoring text message", "payload", string(message.Data))
			return
		}
		r.finish(true, nil)
		return
	}

	r.mu.Lock()
	r.data.Write(message.Data)
	r.chunks++
	received := int64(r.data.Len())
	r.mu.Unlock()

	if r.progress != nil {
		r.progress(received)
	}
	r.logger.Debug("chunk received",
		"bytes", len(message.Data),
		"total_received", received,
	)
}

// finish assembles the payload exactly once. Later completion signals
// (the close that follows the end marker, the timer racing the close)
// are no-ops.
func (r *Receiver) finish(complete bool, cause error) {
	r.finishOnce.Do(func() {
		r.timer.Stop()

		r.mu.Lock()
		data := make([]byte, r.data.Len())
		copy(data, r.data.Bytes())
		chunks := r.chunks
		r.mu.Unlock()

		assembly := &Assembly{
			Data:     data,
			Size:     int64(len(data)),
			Complete: complete,
		}
		hasher := blake3.New()
		hasher.Write(data)
		hasher.Sum(assembly.Digest[:0])

		r.assembly = assembly
		r.err = cause

		if complete {
			r.logger.Info("receive complete",
				"bytes", assembly.Size,
				"chunks", chunks,
			)
		} else {
			r.logger.Warn("receive degraded",
				"bytes", assembly.Size,
				"chunks", chunks,
				"cause", cause,
			)
		}
		close(r.done)
	})
}
