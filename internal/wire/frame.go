/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package wire implements loghogd's on-the-wire framing: an 8 byte
// big-endian header (size, flags) followed by a JSON payload, optionally
// zlib-compressed.
package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderSize is the number of bytes in the size+flags header.
	HeaderSize = 8

	// MaxMessageSize is the maximum total frame size (header + payload).
	MaxMessageSize = 8 * 1024

	// FlagGzip marks the payload as zlib-compressed. Named for parity with
	// the wire protocol's historical flag name; the compression used is
	// zlib (RFC1950), not gzip framing.
	FlagGzip uint32 = 0x01
)

var (
	// ErrOversize is returned when a frame's declared size would exceed
	// MaxMessageSize.
	ErrOversize = errors.New("wire: frame exceeds maximum message size")
)

// Encode produces a complete frame for payload, optionally zlib-compressing
// it first when gzip is true.
func Encode(payload []byte, gzip bool) ([]byte, error) {
	flags := uint32(0)
	if gzip {
		var buf bytes.Buffer
		zw := zlibWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
		flags |= FlagGzip
	}
	if HeaderSize+len(payload) > MaxMessageSize {
		return nil, ErrOversize
	}
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(out[4:8], flags)
	copy(out[HeaderSize:], payload)
	return out, nil
}

func zlibWriter(buf *bytes.Buffer) *zlib.Writer {
	w, _ := zlib.NewWriterLevel(buf, zlib.DefaultCompression)
	return w
}

// Decode looks for one complete frame at the start of buf. It returns the
// decoded (and decompressed, if FlagGzip was set) payload, the remainder of
// buf after the frame, and complete=true. If buf does not yet hold a
// complete frame, complete is false and err is nil - the caller should wait
// for more bytes. If the frame is complete but its compressed payload fails
// to decompress, complete is true, rest still advances past the frame, and
// err is non-nil. Unknown flag bits are ignored for forward compatibility;
// a buffer of exactly HeaderSize+size bytes is considered parseable (the
// spec resolves the reference implementation's off-by-one in favor of
// ">=").
func Decode(buf []byte) (payload []byte, rest []byte, complete bool, err error) {
	if len(buf) < HeaderSize {
		return nil, nil, false, nil
	}
	size := binary.BigEndian.Uint32(buf[0:4])
	flags := binary.BigEndian.Uint32(buf[4:8])
	if uint64(len(buf)) < uint64(HeaderSize)+uint64(size) {
		return nil, nil, false, nil
	}
	raw := buf[HeaderSize : HeaderSize+int(size)]
	rest = buf[HeaderSize+int(size):]
	complete = true

	if flags&FlagGzip != 0 {
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(bytes.NewReader(raw)); err != nil {
			return nil, rest, complete, err
		}
		payload, err = io.ReadAll(zr)
		zr.Close()
		return payload, rest, complete, err
	}
	payload = raw
	return payload, rest, complete, nil
}
