// Copyright 2026 The Atdrop Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/atdrop/atdrop/lib/clock"
)

const (
	// ChunkSize is the payload size of one binary message. The last
	// chunk of a file is usually shorter.
	ChunkSize = 64 * 1024

	// BufferLowWater is the outbound buffer level the sender waits
	// for before queueing the next chunk.
	BufferLowWater = 256 * 1024

	// ReceiveTimeout is how long the receiver tolerates silence
	// before assembling whatever has arrived.
	ReceiveTimeout = 20 * time.Second

	// CloseGraceDelay is how long the sender lingers after the end
	// marker drains, giving the peer time to process it before the
	// close races the final messages.
	CloseGraceDelay = 200 * time.Millisecond

	// drainPollInterval paces the post-marker drain check.
	drainPollInterval = 50 * time.Millisecond
)

// endMarker is the text message that terminates a stream.
const endMarker = `{"type":"EOF"}`

// controlMessage is the schema of text messages on the channel.
type controlMessage struct {
	Type string `json:"type"`
}

// SendStats summarizes a completed send.
type SendStats struct {
	BytesSent int64
	Chunks    int
	// Digest is the BLAKE3 hash of the payload, for out-of-band
	// comparison. Not verified automatically.
	Digest [32]byte
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Channel is the open data channel to send over.
	Channel DataChannel
	// Clock is used for the drain poll and the close grace delay. If
	// nil, the real clock is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// Progress, when set, is called after each queued chunk with the
	// running byte count and the declared total.
	Progress func(sent, total int64)
}

// Sender streams a payload over a data channel in ChunkSize binary
// messages, pacing itself against the channel's buffered amount so a
// fast reader never balloons the outbound queue.
type Sender struct {
	channel  DataChannel
	clock    clock.Clock
	logger   *slog.Logger
	progress func(sent, total int64)

	bufferLow chan struct{}
}

// NewSender creates a sender and registers its backpressure callback
// on the channel. Create the sender before the peer expects data.
func NewSender(config SenderConfig) *Sender {
	c := config.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sender{
		channel:   config.Channel,
		clock:     c,
		logger:    logger,
		progress:  config.Progress,
		bufferLow: make(chan struct{}, 1),
	}
	s.channel.SetBufferedAmountLowThreshold(BufferLowWater)
	s.channel.OnBufferedAmountLow(func() {
		select {
		case s.bufferLow <- struct{}{}:
		default:
		}
	})
	return s
}

// Send streams size bytes from r over the channel, then sends the end
// marker, waits for the outbound buffer to drain plus a grace delay,
// and closes the channel. Cancelling the context aborts between
// chunks; the channel is closed either way.
func (s *Sender) Send(ctx context.Context, r io.Reader, size int64) (*SendStats, error) {
	defer s.channel.Close()

	hasher := blake3.New()
	stats := &SendStats{}
	buffer := make([]byte, ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("transfer: send cancelled after %d bytes: %w", stats.BytesSent, err)
		}

		n, readErr := io.ReadFull(r, buffer)
		if n > 0 {
			chunk := buffer[:n]
			if err := s.channel.SendBinary(chunk); err != nil {
				return stats, fmt.Errorf("transfer: sending chunk %d: %w", stats.Chunks, err)
			}
			hasher.Write(chunk)
			stats.BytesSent += int64(n)
			stats.Chunks++
			if s.progress != nil {
				s.progress(stats.BytesSent, size)
			}
			s.logger.Debug("chunk queued",
				"chunk", stats.Chunks,
				"bytes", n,
				"total_sent", stats.BytesSent,
			)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return stats, fmt.Errorf("transfer: reading payload: %w", readErr)
		}

		if err := s.waitForBuffer(ctx); err != nil {
			return stats, err
		}
	}

	hasher.Sum(stats.Digest[:0])

	if err := s.channel.SendText(endMarker); err != nil {
		return stats, fmt.Errorf("transfer: sending end marker: %w", err)
	}
	if err := s.waitForDrain(ctx); err != nil {
		return stats, err
	}
	s.clock.Sleep(CloseGraceDelay)

	s.logger.Info("send complete",
		"bytes", stats.BytesSent,
		"chunks", stats.Chunks,
	)
	return stats, nil
}

// waitForBuffer blocks until the outbound buffer is below the low
// water mark, using the channel's threshold callback rather than
// polling.
func (s *Sender) waitForBuffer(ctx context.Context) error {
	for s.channel.BufferedAmount() >= BufferLowWater {
		select {
		case <-s.bufferLow:
		case <-ctx.Done():
			return fmt.Errorf("transfer: send cancelled waiting for buffer: %w", ctx.Err())
		}
	}
	return nil
}

// waitForDrain blocks until the outbound buffer is empty. The
// low-water callback stops firing below the threshold, so this final
// stretch is polled.
func (s *Sender) waitForDrain(ctx context.Context) error {
	for s.channel.BufferedAmount() > 0 {
		select {
		case <-s.clock.After(drainPollInterval):
		case <-ctx.Done():
			return fmt.Errorf("transfer: send cancelled waiting for drain: %w", ctx.Err())
		}
	}
	return nil
}
