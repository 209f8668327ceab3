// SPDX-License-Identifier: MIT

// Package shmchannel implements the named publish/subscribe channel layer
// of spec.md §4.2 (C2): one publisher, one subscriber per logical edge,
// backed by a memory-mapped file so that frames genuinely cross process
// boundaries without a copy through the kernel, the way the source's
// iceoryx2 transport does.
//
// No pure-Go iceoryx2 binding exists in this corpus (see SPEC_FULL.md §9,
// "SHM transport"). Segments are instead backed by golang.org/x/sys/unix
// Mmap over a file under the configured IPC root, with flock(2) guarding
// every access — the same coordination primitive internal/lock/filelock.go
// uses for its PID-file locking, generalized from "one lock per device" to
// "one lock per channel segment".
package shmchannel

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	magic        = "RMS1"
	headerSize   = 64
	slotHeaderSz = 4 // u32 data length prefix per slot
)

// segment is the memory-mapped arena backing one named channel. Layout:
//
//	[0:4]   magic "RMS1"
//	[4:8]   u32 capacity (slot count)
//	[8:12]  u32 slotDataCap (current per-slot payload capacity, power of two)
//	[12]    u8  backpressure (1 = block/WouldBlock on full, 0 = drop oldest)
//	[13]    u8  closed
//	[16:20] u32 historySize
//	[24:32] u64 writeSeq (total frames ever published, monotonic)
//	[40:48] u64 subscriberSeq (number of frames the subscriber has
//	        consumed, used by the publisher to compute buffer occupancy
//	        for backpressure without a second process reaching across)
//	[32:40], [48:64] reserved
//	[64:]   capacity * (slotHeaderSz + slotDataCap) slot records
type segment struct {
	mu   sync.Mutex
	file *os.File
	data []byte // mmap'd region
	path string
}

func slotSize(slotDataCap uint32) int {
	return slotHeaderSz + int(slotDataCap)
}

func fileSize(capacity, slotDataCap uint32) int64 {
	return headerSize + int64(capacity)*int64(slotSize(slotDataCap))
}

// createSegment creates a new backing file at path with the given
// configuration. It is idempotent in the sense required by spec.md §4.2:
// if the file already exists with a matching header, it is reused as-is
// rather than recreated.
func createSegment(path string, capacity, initialSlotCap, history uint32, backpressure bool) (*segment, error) {
	if existing, err := openSegment(path); err == nil {
		return existing, nil
	}

	size := fileSize(capacity, initialSlotCap)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, fmt.Errorf("shmchannel: create %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shmchannel: flock %s: %w", path, err)
	}
	defer func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }()

	// Another creator may have raced us between the openSegment check and
	// acquiring the exclusive lock; re-check under lock.
	if fi, statErr := f.Stat(); statErr == nil && fi.Size() >= headerSize {
		if seg, reopenErr := attachSegment(f, path); reopenErr == nil {
			return seg, nil
		}
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shmchannel: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shmchannel: mmap %s: %w", path, err)
	}

	copy(data[0:4], magic)
	binary.LittleEndian.PutUint32(data[4:8], capacity)
	binary.LittleEndian.PutUint32(data[8:12], initialSlotCap)
	if backpressure {
		data[12] = 1
	}
	binary.LittleEndian.PutUint32(data[16:20], history)
	binary.LittleEndian.PutUint64(data[24:32], 0)

	return &segment{file: f, data: data, path: path}, nil
}

// openSegment opens a pre-existing backing file as a subscriber would
// (spec.md §4.2: "the subscriber must be able to open a pre-created
// service with matching history/buffer configuration").
func openSegment(path string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0640)
	if err != nil {
		return nil, err
	}
	seg, err := attachSegment(f, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return seg, nil
}

func attachSegment(f *os.File, path string) (*segment, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < headerSize {
		return nil, fmt.Errorf("shmchannel: %s too small to be a valid segment", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmchannel: mmap %s: %w", path, err)
	}
	if string(data[0:4]) != magic {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("shmchannel: %s has bad magic", path)
	}
	return &segment{file: f, data: data, path: path}, nil
}

func (s *segment) capacity() uint32          { return binary.LittleEndian.Uint32(s.data[4:8]) }
func (s *segment) slotDataCap() uint32       { return binary.LittleEndian.Uint32(s.data[8:12]) }
func (s *segment) backpressure() bool        { return s.data[12] == 1 }
func (s *segment) historySize() uint32       { return binary.LittleEndian.Uint32(s.data[16:20]) }
func (s *segment) writeSeq() uint64          { return binary.LittleEndian.Uint64(s.data[24:32]) }
func (s *segment) setWriteSeq(v uint64)      { binary.LittleEndian.PutUint64(s.data[24:32], v) }
func (s *segment) isClosed() bool            { return s.data[13] == 1 }
func (s *segment) markClosed()               { s.data[13] = 1 }
func (s *segment) subscriberSeq() uint64     { return binary.LittleEndian.Uint64(s.data[40:48]) }
func (s *segment) setSubscriberSeq(v uint64) { binary.LittleEndian.PutUint64(s.data[40:48], v) }

func (s *segment) slotOffset(index uint64) int64 {
	cap64 := int64(s.capacity())
	slot := int64(index % uint64(cap64))
	return headerSize + slot*int64(slotSize(s.slotDataCap()))
}

// writeSlot writes payload into the slot for writeSeq index, growing the
// segment's slot capacity (by doubling, per spec.md §4.1/§9) if payload
// does not fit the current per-slot capacity.
func (s *segment) writeSlot(index uint64, payload []byte) error {
	if uint32(len(payload)) > s.slotDataCap() {
		if err := s.grow(uint32(len(payload))); err != nil {
			return err
		}
	}
	off := s.slotOffset(index)
	sz := slotSize(s.slotDataCap())
	binary.LittleEndian.PutUint32(s.data[off:off+4], uint32(len(payload)))
	copy(s.data[off+4:off+int64(sz)], payload)
	return nil
}

func (s *segment) readSlot(index uint64) []byte {
	off := s.slotOffset(index)
	n := binary.LittleEndian.Uint32(s.data[off : off+4])
	out := make([]byte, n)
	copy(out, s.data[off+4:off+4+int64(n)])
	return out
}

// grow doubles slotDataCap until it can hold need bytes, remapping the
// backing file to the new (larger) layout and copying existing slot
// payloads into their new positions. Caller must hold s.mu and the file's
// flock.
func (s *segment) grow(need uint32) error {
	newCap := s.slotDataCap()
	if newCap == 0 {
		newCap = 1
	}
	for newCap < need {
		newCap *= 2
	}

	oldCap := s.capacity()
	oldWriteSeq := s.writeSeq()
	oldHistory := s.historySize()
	oldBackpressure := s.backpressure()

	// Snapshot existing slots before remapping.
	type slotCopy struct {
		index uint64
		data  []byte
	}
	lo := uint64(0)
	if oldWriteSeq > uint64(oldCap) {
		lo = oldWriteSeq - uint64(oldCap)
	}
	snapshots := make([]slotCopy, 0, oldCap)
	for i := lo; i < oldWriteSeq; i++ {
		snapshots = append(snapshots, slotCopy{index: i, data: s.readSlot(i)})
	}

	newSize := fileSize(oldCap, newCap)
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("shmchannel: munmap during grow: %w", err)
	}
	if err := s.file.Truncate(newSize); err != nil {
		return fmt.Errorf("shmchannel: truncate during grow: %w", err)
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shmchannel: mmap during grow: %w", err)
	}
	s.data = data

	copy(s.data[0:4], magic)
	binary.LittleEndian.PutUint32(s.data[4:8], oldCap)
	binary.LittleEndian.PutUint32(s.data[8:12], newCap)
	if oldBackpressure {
		s.data[12] = 1
	}
	binary.LittleEndian.PutUint32(s.data[16:20], oldHistory)
	s.setWriteSeq(oldWriteSeq)

	for _, sc := range snapshots {
		off := s.slotOffset(sc.index)
		binary.LittleEndian.PutUint32(s.data[off:off+4], uint32(len(sc.data)))
		copy(s.data[off+4:], sc.data)
	}
	return nil
}

func (s *segment) close() error {
	if s.data != nil {
		_ = unix.Munmap(s.data)
		s.data = nil
	}
	return s.file.Close()
}
