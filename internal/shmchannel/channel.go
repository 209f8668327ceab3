// SPDX-License-Identifier: MIT

package shmchannel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
)

// ErrWouldBlock is returned by TryPublish when backpressure=true and the
// subscriber has not kept up (spec.md §4.2).
var ErrWouldBlock = errors.New("shmchannel: would block")

const (
	// DefaultHistorySize is the default frame backlog a late subscriber can
	// recover (spec.md §4.2).
	DefaultHistorySize = 100
	// DefaultInitialSlotCap is the starting per-slot payload capacity; it
	// doubles on demand (spec.md §4.1, §9).
	DefaultInitialSlotCap = 4096
	// openRetryInterval is the poll interval while a late subscriber waits
	// for the publisher to create the segment (spec.md §4.2: "retries open
	// for up to ~5 seconds").
	openRetryInterval = 50 * time.Millisecond
	// receivePollInterval is the poll interval for blocking receive/publish;
	// there is no cross-process wakeup primitive over a plain mmap file, so
	// callers pay a small fixed latency, bounded by this interval.
	receivePollInterval = 2 * time.Millisecond
)

// Config describes how a channel's segment should be created.
type Config struct {
	Capacity     uint32 // number of frames retained (spec.md §3: capacity ∈ [1,1024])
	History      uint32 // spec.md §3: history ∈ [0,capacity]
	Backpressure bool
}

// DefaultConfig returns the spec's default channel configuration.
func DefaultConfig() Config {
	return Config{Capacity: 100, History: DefaultHistorySize, Backpressure: true}
}

// Name builds the canonical channel name for a node's input or output edge
// (spec.md §4.2): "{session_id}_{node_id}_input" / "..._output".
func Name(sessionID, nodeID, port string) string {
	return fmt.Sprintf("%s_%s_%s", sessionID, nodeID, port)
}

// ControlName builds the canonical control-channel name used for the
// readiness handshake and init-progress updates (spec.md §4.2, §4.4).
func ControlName(sessionID, nodeID string) string {
	return fmt.Sprintf("control/%s_%s", sessionID, nodeID)
}

func segmentPath(root, name string) string {
	// Control channel names embed a "/"; flatten it into the filename so the
	// backing file lives directly under root without needing subdirectories.
	safe := filepath.Clean(name)
	safe = filepath.Base(filepath.Dir(safe)) + "__" + filepath.Base(safe)
	if filepath.Dir(name) == "." {
		safe = name
	}
	return filepath.Join(root, safe+".shm")
}

// Publisher is the exclusive write endpoint of a channel (spec.md §4.2).
type Publisher struct {
	seg  *segment
	name string
}

// Subscriber is the exclusive read endpoint of a channel.
type Subscriber struct {
	seg     *segment
	name    string
	readSeq uint64
}

// CreatePublisher creates (idempotently) the backing segment for name and
// returns its publisher endpoint.
func CreatePublisher(root, name string, cfg Config) (*Publisher, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("shmchannel: mkdir ipc root: %w", err)
	}
	if cfg.Capacity == 0 || cfg.Capacity > 1024 {
		return nil, rmerrors.New(rmerrors.KindValidation, "channel capacity %d out of range [1,1024]", cfg.Capacity)
	}
	if cfg.History > cfg.Capacity {
		return nil, rmerrors.New(rmerrors.KindValidation, "channel history %d exceeds capacity %d", cfg.History, cfg.Capacity)
	}
	seg, err := createSegment(segmentPath(root, name), cfg.Capacity, DefaultInitialSlotCap, cfg.History, cfg.Backpressure)
	if err != nil {
		return nil, err
	}
	return &Publisher{seg: seg, name: name}, nil
}

// OpenSubscriber opens a pre-created segment as a subscriber, retrying for
// up to openTimeout if the publisher has not created it yet (spec.md §4.2/
// §4.4: "late side retries open for up to ~5 seconds before falling back to
// create-with-history").
func OpenSubscriber(ctx context.Context, root, name string, openTimeout time.Duration, fallback Config) (*Subscriber, error) {
	path := segmentPath(root, name)
	deadline := time.Now().Add(openTimeout)

	for {
		seg, err := openSegment(path)
		if err == nil {
			start := uint64(0)
			wseq := seg.writeSeq()
			hist := uint64(seg.historySize())
			if wseq > hist {
				start = wseq - hist
			}
			return &Subscriber{seg: seg, name: name, readSeq: start}, nil
		}

		if time.Now().After(deadline) {
			// Fall back to create-with-history: become the publisher's
			// peer by creating the segment ourselves. This can only
			// recover a startup race; it does not fabricate data.
			if err := os.MkdirAll(root, 0750); err != nil {
				return nil, fmt.Errorf("shmchannel: mkdir ipc root: %w", err)
			}
			seg, cerr := createSegment(path, fallback.Capacity, DefaultInitialSlotCap, fallback.History, fallback.Backpressure)
			if cerr != nil {
				return nil, rmerrors.Wrap(rmerrors.KindTimeout, cerr, "open subscriber %q timed out and fallback create failed", name)
			}
			return &Subscriber{seg: seg, name: name}, nil
		}

		select {
		case <-ctx.Done():
			return nil, rmerrors.Wrap(rmerrors.KindTimeout, ctx.Err(), "open subscriber %q cancelled", name)
		case <-time.After(openRetryInterval):
		}
	}
}

func (p *Publisher) withLock(fn func() error) error {
	p.seg.mu.Lock()
	defer p.seg.mu.Unlock()
	if err := syscall.Flock(int(p.seg.file.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("shmchannel: flock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(p.seg.file.Fd()), syscall.LOCK_UN) }()
	return fn()
}

// TryPublish publishes payload without blocking. It returns ErrWouldBlock
// if backpressure=true and the subscriber has not kept up with capacity
// frames outstanding (spec.md §4.2).
func (p *Publisher) TryPublish(payload []byte) error {
	return p.withLock(func() error {
		if p.seg.isClosed() {
			return rmerrors.New(rmerrors.KindChannelClosed, "publish to closed channel %q", p.name)
		}
		occupancy := p.seg.writeSeq() - p.seg.subscriberSeq()
		if occupancy >= uint64(p.seg.capacity()) {
			if p.seg.backpressure() {
				return ErrWouldBlock
			}
			// Drop-oldest: the subscriber's next Receive will detect it
			// fell behind and skip forward past the overwritten slots.
		}
		idx := p.seg.writeSeq()
		if err := p.seg.writeSlot(idx, payload); err != nil {
			return err
		}
		p.seg.setWriteSeq(idx + 1)
		return nil
	})
}

// Publish blocks (subject to ctx) until the frame is accepted, retrying
// TryPublish while it returns ErrWouldBlock (spec.md §6: "scheduler uses
// blocking publish for inputs").
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	for {
		err := p.TryPublish(payload)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}
		select {
		case <-ctx.Done():
			return rmerrors.Wrap(rmerrors.KindTimeout, ctx.Err(), "publish to %q cancelled while blocked", p.name)
		case <-time.After(receivePollInterval):
		}
	}
}

// Close marks the channel closed; downstream Receive calls observe
// end-of-stream once all buffered frames are drained (spec.md §4.4).
func (p *Publisher) Close() error {
	return p.withLock(func() error {
		p.seg.markClosed()
		return nil
	})
}

// Unmap releases this endpoint's mapping of the segment. The segment
// itself (and any data already written) persists until both endpoints
// have called Unmap and the backing file is removed by the owning session.
func (p *Publisher) Unmap() error { return p.seg.close() }

// TryReceive returns the next frame without blocking, or (nil, false, nil)
// if none is available yet. If the channel is closed and fully drained it
// returns (nil, false, io.EOF-equivalent) via the closed flag.
func (s *Subscriber) TryReceive() (payload []byte, ok bool, closed bool) {
	s.seg.mu.Lock()
	defer s.seg.mu.Unlock()

	wseq := s.seg.writeSeq()
	// Catch up if we fell behind the retained window (oldest-drop case).
	cap64 := uint64(s.seg.capacity())
	if wseq > cap64 && s.readSeq < wseq-cap64 {
		s.readSeq = wseq - cap64
	}

	if s.readSeq >= wseq {
		return nil, false, s.seg.isClosed()
	}
	data := s.seg.readSlot(s.readSeq)
	s.readSeq++
	s.seg.setSubscriberSeq(s.readSeq)
	return data, true, false
}

// Receive blocks until a frame is available, ctx is cancelled, or the
// channel closes with no more buffered data.
func (s *Subscriber) Receive(ctx context.Context) ([]byte, error) {
	for {
		payload, ok, closed := s.TryReceive()
		if ok {
			return payload, nil
		}
		if closed {
			return nil, rmerrors.New(rmerrors.KindChannelClosed, "receive from closed channel %q", s.name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receivePollInterval):
		}
	}
}

// ReceiveTimeout blocks up to timeout for a frame, returning (nil, false)
// on timeout without error (spec.md §4.2).
func (s *Subscriber) ReceiveTimeout(timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	for {
		payload, ok, closed := s.TryReceive()
		if ok {
			return payload, true
		}
		if closed {
			return nil, false
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(receivePollInterval)
	}
}

// Unmap releases this endpoint's mapping of the segment.
func (s *Subscriber) Unmap() error { return s.seg.close() }

// Remove deletes the backing file for name. Called by the session owner
// once both endpoints have unmapped, so no dangling SHM services remain
// after cancellation (spec.md §8).
func Remove(root, name string) error {
	err := os.Remove(segmentPath(root, name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// TypedPublisher wraps a Publisher to send runtimedata.Data values through
// the §4.1 frame codec.
type TypedPublisher struct{ *Publisher }

// TypedSubscriber wraps a Subscriber to receive runtimedata.Data values.
type TypedSubscriber struct{ *Subscriber }

func (p TypedPublisher) PublishData(ctx context.Context, d runtimedata.Data) error {
	frame, err := runtimedata.Frame(d)
	if err != nil {
		return err
	}
	return p.Publish(ctx, frame)
}

func (p TypedPublisher) TryPublishData(d runtimedata.Data) error {
	frame, err := runtimedata.Frame(d)
	if err != nil {
		return err
	}
	return p.TryPublish(frame)
}

func (s TypedSubscriber) ReceiveData(ctx context.Context) (runtimedata.Data, error) {
	b, err := s.Receive(ctx)
	if err != nil {
		return runtimedata.Data{}, err
	}
	return runtimedata.ParseFrame(b)
}

func (s TypedSubscriber) ReceiveDataTimeout(timeout time.Duration) (runtimedata.Data, bool, error) {
	b, ok := s.ReceiveTimeout(timeout)
	if !ok {
		return runtimedata.Data{}, false, nil
	}
	d, err := runtimedata.ParseFrame(b)
	if err != nil {
		return runtimedata.Data{}, false, err
	}
	return d, true, nil
}
