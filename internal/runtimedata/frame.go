// SPDX-License-Identifier: MIT

package runtimedata

import (
	"encoding/binary"
	"fmt"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Frame encodes a Data value into the bit-exact little-endian layout
// required by spec.md §4.1:
//
//	u8 tag | u16 len + utf8 session_id | i64 ns timestamp | u32 plen | payload
//
// Payload encoding is tag-specific; see decodePayload for the mirror.
func Frame(d Data) ([]byte, error) {
	payload, err := encodePayload(d)
	if err != nil {
		return nil, err
	}
	if len(d.SessionID) > 0xFFFF {
		return nil, rmerrors.New(rmerrors.KindValidation, "session_id too long: %d bytes", len(d.SessionID))
	}

	buf := make([]byte, 0, 1+2+len(d.SessionID)+8+4+len(payload))
	buf = append(buf, byte(d.Tag))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(d.SessionID)))
	buf = append(buf, d.SessionID...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(d.Timestamp))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

// ParseFrame decodes bytes produced by Frame back into a Data value. The
// roundtrip Frame(ParseFrame(b)) == b (modulo re-encoding of equivalent
// payloads) is one of spec.md §8's testable properties.
func ParseFrame(b []byte) (Data, error) {
	if len(b) < 1+2 {
		return Data{}, rmerrors.New(rmerrors.KindValidation, "frame too short: %d bytes", len(b))
	}
	tag := Tag(b[0])
	off := 1

	sidLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+sidLen+8+4 {
		return Data{}, rmerrors.New(rmerrors.KindValidation, "frame truncated in header")
	}
	sessionID := string(b[off : off+sidLen])
	off += sidLen

	ts := int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8

	plen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+plen {
		return Data{}, rmerrors.New(rmerrors.KindValidation, "frame truncated in payload: want %d have %d", plen, len(b)-off)
	}
	payload := b[off : off+plen]

	return decodePayload(tag, sessionID, ts, payload)
}

func encodePayload(d Data) ([]byte, error) {
	switch d.Tag {
	case TagText:
		return []byte(d.text), nil
	case TagBinary:
		return d.binary, nil
	case TagJSON:
		return d.json, nil
	case TagVideo:
		return d.video, nil
	case TagNumpy:
		return encodeNumpy(d.numpy), nil
	case TagAudio:
		return encodeAudio(d.audio), nil
	default:
		return nil, rmerrors.New(rmerrors.KindValidation, "unknown RuntimeData tag %d", d.Tag)
	}
}

func decodePayload(tag Tag, sessionID string, ts int64, payload []byte) (Data, error) {
	switch tag {
	case TagText:
		return NewText(sessionID, ts, string(payload)), nil
	case TagBinary:
		return NewBinary(sessionID, ts, append([]byte(nil), payload...)), nil
	case TagJSON:
		return NewJSON(sessionID, ts, append([]byte(nil), payload...)), nil
	case TagVideo:
		return NewVideo(sessionID, ts, append([]byte(nil), payload...)), nil
	case TagNumpy:
		n, err := decodeNumpy(payload)
		if err != nil {
			return Data{}, err
		}
		return NewNumpy(sessionID, ts, n), nil
	case TagAudio:
		a, err := decodeAudio(payload)
		if err != nil {
			return Data{}, err
		}
		return NewAudio(sessionID, ts, a), nil
	default:
		return Data{}, rmerrors.New(rmerrors.KindValidation, "unknown RuntimeData tag %d", tag)
	}
}

// encodeNumpy writes: u8 dtype_code, u8 ndim, [u64 shape]*ndim,
// [i64 stride]*ndim, u8 flags (bit0=C, bit1=F), u32 data_len, data.
func encodeNumpy(n Numpy) []byte {
	ndim := len(n.Shape)
	buf := make([]byte, 0, 2+ndim*8+ndim*8+1+4+len(n.Data))
	buf = append(buf, byte(n.DType), byte(ndim))
	for _, s := range n.Shape {
		buf = binary.LittleEndian.AppendUint64(buf, s)
	}
	for _, s := range n.Strides {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s))
	}
	var flags byte
	if n.CContiguous {
		flags |= 1 << 0
	}
	if n.FContiguous {
		flags |= 1 << 1
	}
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.Data)))
	buf = append(buf, n.Data...)
	return buf
}

func decodeNumpy(b []byte) (Numpy, error) {
	if len(b) < 2 {
		return Numpy{}, rmerrors.New(rmerrors.KindValidation, "numpy payload too short")
	}
	dtype := DType(b[0])
	ndim := int(b[1])
	off := 2

	need := off + ndim*8 + ndim*8 + 1 + 4
	if len(b) < need {
		return Numpy{}, rmerrors.New(rmerrors.KindValidation, "numpy payload truncated")
	}

	shape := make([]uint64, ndim)
	for i := 0; i < ndim; i++ {
		shape[i] = binary.LittleEndian.Uint64(b[off:])
		off += 8
	}
	strides := make([]int64, ndim)
	for i := 0; i < ndim; i++ {
		strides[i] = int64(binary.LittleEndian.Uint64(b[off:]))
		off += 8
	}
	flags := b[off]
	off++
	dataLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+dataLen {
		return Numpy{}, rmerrors.New(rmerrors.KindValidation, "numpy data truncated: want %d have %d", dataLen, len(b)-off)
	}
	data := append([]byte(nil), b[off:off+dataLen]...)

	return Numpy{
		DType:       dtype,
		Shape:       shape,
		Strides:     strides,
		CContiguous: flags&(1<<0) != 0,
		FContiguous: flags&(1<<1) != 0,
		Data:        data,
	}, nil
}

// encodeAudio writes: u32 sample_rate, u16 channels, u8 format_code,
// u64 num_samples, u32 data_len, data.
func encodeAudio(a Audio) []byte {
	buf := make([]byte, 0, 4+2+1+8+4+len(a.Samples))
	buf = binary.LittleEndian.AppendUint32(buf, a.SampleRate)
	buf = binary.LittleEndian.AppendUint16(buf, a.Channels)
	buf = append(buf, byte(a.Format))
	buf = binary.LittleEndian.AppendUint64(buf, a.NumSamples)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Samples)))
	buf = append(buf, a.Samples...)
	return buf
}

func decodeAudio(b []byte) (Audio, error) {
	const headerLen = 4 + 2 + 1 + 8 + 4
	if len(b) < headerLen {
		return Audio{}, rmerrors.New(rmerrors.KindValidation, "audio payload too short")
	}
	off := 0
	sampleRate := binary.LittleEndian.Uint32(b[off:])
	off += 4
	channels := binary.LittleEndian.Uint16(b[off:])
	off += 2
	format := AudioFormat(b[off])
	off++
	numSamples := binary.LittleEndian.Uint64(b[off:])
	off += 8
	dataLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if len(b) < off+dataLen {
		return Audio{}, fmt.Errorf("%w", rmerrors.New(rmerrors.KindValidation, "audio data truncated: want %d have %d", dataLen, len(b)-off))
	}
	samples := append([]byte(nil), b[off:off+dataLen]...)

	return Audio{
		SampleRate: sampleRate,
		Channels:   channels,
		Format:     format,
		NumSamples: numSamples,
		Samples:    samples,
	}, nil
}
