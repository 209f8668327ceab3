// SPDX-License-Identifier: MIT

// Package runtimedata implements the RuntimeData tagged union exchanged
// between nodes (spec.md §3, §4.1) and its bit-exact on-channel frame
// encoding, grounded on the wire-format discipline the teacher repo applies
// to its own binary formats (internal/lock/filelock.go's PID file format).
package runtimedata

import (
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Tag identifies the RuntimeData variant on the wire (spec.md §4.1).
type Tag uint8

const (
	TagAudio  Tag = 1
	TagVideo  Tag = 2
	TagText   Tag = 3
	TagBinary Tag = 4
	TagJSON   Tag = 5
	TagNumpy  Tag = 6
)

func (t Tag) String() string {
	switch t {
	case TagAudio:
		return "Audio"
	case TagVideo:
		return "Video"
	case TagText:
		return "Text"
	case TagBinary:
		return "Binary"
	case TagJSON:
		return "Json"
	case TagNumpy:
		return "Numpy"
	default:
		return "Unknown"
	}
}

// DType is the numpy element type carried in a Numpy variant.
type DType uint8

const (
	DTypeF32 DType = iota
	DTypeF64
	DTypeI16
	DTypeI32
	DTypeU8
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF64:
		return "f64"
	case DTypeI16:
		return "i16"
	case DTypeI32:
		return "i32"
	case DTypeU8:
		return "u8"
	default:
		return "unknown"
	}
}

// AudioFormat identifies the sample encoding of an Audio variant.
type AudioFormat uint8

const (
	AudioFormatF32Interleaved AudioFormat = iota
	AudioFormatI16Interleaved
)

// Numpy carries a numpy-compatible array payload with metadata preserved
// bit-for-bit across the channel (spec.md §3).
type Numpy struct {
	DType        DType
	Shape        []uint64
	Strides      []int64
	CContiguous  bool
	FContiguous  bool
	Data         []byte
}

// Audio carries raw PCM samples with the metadata needed to interpret them.
type Audio struct {
	SampleRate  uint32
	Channels    uint16
	Format      AudioFormat
	NumSamples  uint64
	Samples     []byte
}

// Data is the tagged union over Text/Binary/JSON/Numpy/Audio/Video
// (spec.md §3). Exactly one of the payload fields is meaningful, selected
// by Tag; constructors and accessors enforce this.
type Data struct {
	Tag Tag

	text   string
	binary []byte
	json   []byte // canonical UTF-8 JSON bytes
	numpy  Numpy
	audio  Audio
	video  []byte // reserved, opaque passthrough

	SessionID string
	Timestamp int64 // monotonic nanoseconds from engine start
}

// NewText constructs a Text variant.
func NewText(sessionID string, ts int64, s string) Data {
	return Data{Tag: TagText, text: s, SessionID: sessionID, Timestamp: ts}
}

// NewBinary constructs a Binary variant.
func NewBinary(sessionID string, ts int64, b []byte) Data {
	return Data{Tag: TagBinary, binary: b, SessionID: sessionID, Timestamp: ts}
}

// NewJSON constructs a Json variant from canonical JSON bytes.
func NewJSON(sessionID string, ts int64, canonical []byte) Data {
	return Data{Tag: TagJSON, json: canonical, SessionID: sessionID, Timestamp: ts}
}

// NewNumpy constructs a Numpy variant.
func NewNumpy(sessionID string, ts int64, n Numpy) Data {
	return Data{Tag: TagNumpy, numpy: n, SessionID: sessionID, Timestamp: ts}
}

// NewAudio constructs an Audio variant.
func NewAudio(sessionID string, ts int64, a Audio) Data {
	return Data{Tag: TagAudio, audio: a, SessionID: sessionID, Timestamp: ts}
}

// NewVideo constructs a reserved Video variant (opaque bytes, not
// interpreted by the core; spec.md §3 marks Video reserved).
func NewVideo(sessionID string, ts int64, b []byte) Data {
	return Data{Tag: TagVideo, video: b, SessionID: sessionID, Timestamp: ts}
}

func (d Data) IsText() bool   { return d.Tag == TagText }
func (d Data) IsBinary() bool { return d.Tag == TagBinary }
func (d Data) IsJSON() bool   { return d.Tag == TagJSON }
func (d Data) IsNumpy() bool  { return d.Tag == TagNumpy }
func (d Data) IsAudio() bool  { return d.Tag == TagAudio }
func (d Data) IsVideo() bool  { return d.Tag == TagVideo }

func mismatch(want Tag, got Tag) error {
	return rmerrors.New(rmerrors.KindTypeMismatch,
		"expected %s variant, got %s", want, got)
}

// AsText returns the Text payload, or a TypeMismatch error for any other variant.
func (d Data) AsText() (string, error) {
	if d.Tag != TagText {
		return "", mismatch(TagText, d.Tag)
	}
	return d.text, nil
}

// AsBinary returns the Binary payload.
func (d Data) AsBinary() ([]byte, error) {
	if d.Tag != TagBinary {
		return nil, mismatch(TagBinary, d.Tag)
	}
	return d.binary, nil
}

// AsJSON returns the raw canonical JSON bytes of the Json payload.
func (d Data) AsJSON() ([]byte, error) {
	if d.Tag != TagJSON {
		return nil, mismatch(TagJSON, d.Tag)
	}
	return d.json, nil
}

// AsNumpy returns the Numpy payload.
func (d Data) AsNumpy() (Numpy, error) {
	if d.Tag != TagNumpy {
		return Numpy{}, mismatch(TagNumpy, d.Tag)
	}
	return d.numpy, nil
}

// AsAudio returns the Audio payload.
func (d Data) AsAudio() (Audio, error) {
	if d.Tag != TagAudio {
		return Audio{}, mismatch(TagAudio, d.Tag)
	}
	return d.audio, nil
}

// AsVideo returns the reserved Video payload bytes.
func (d Data) AsVideo() ([]byte, error) {
	if d.Tag != TagVideo {
		return nil, mismatch(TagVideo, d.Tag)
	}
	return d.video, nil
}
