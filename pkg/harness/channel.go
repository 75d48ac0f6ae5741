// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Wire contract of the engine channel. The engine owns the endpoint: it is
// created at target spawn time and inherited as a descriptor; the harness
// only consumes it. Framing, little-endian:
//
//	engine -> harness, one per iteration:  reqHeader{magic, size} + size input bytes
//	harness -> engine, one per iteration:  reply{magic, status}
//
// A clean EOF at a request boundary is the shutdown signal. Everything else
// that does not follow the framing is a protocol violation.
const (
	reqMagic   = uint32(0x676e6f68) // "hong"
	replyMagic = uint32(0x72657469) // "iter"

	statusCompleted = uint32(0)

	// maxInputSize bounds one corpus input; matches the engine's default
	// maximum input length.
	maxInputSize = 1 << 20

	headerSize = 8
)

// ProtocolError is a violation of the channel wire contract outside a
// normal shutdown sequence.
type ProtocolError struct {
	What string
}

func (err *ProtocolError) Error() string {
	return "engine channel protocol violation: " + err.What
}

type channel struct {
	rw  io.ReadWriter
	buf []byte
}

func openChannel(fd int) *channel {
	f := os.NewFile(uintptr(fd), "hongg-channel")
	return newChannel(f)
}

func newChannel(rw io.ReadWriter) *channel {
	return &channel{
		rw: rw,
		// One reusable buffer for all iterations: an input is owned by the
		// harness for a single iteration only, so nothing may retain it.
		buf: make([]byte, maxInputSize),
	}
}

// recv blocks for the next input. It returns io.EOF on a clean engine
// shutdown and *ProtocolError on malformed framing.
func (ch *channel) recv() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(ch.rw, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &ProtocolError{What: fmt.Sprintf("truncated request header: %v", err)}
	}
	magic := binary.LittleEndian.Uint32(header[0:])
	size := binary.LittleEndian.Uint32(header[4:])
	if magic != reqMagic {
		return nil, &ProtocolError{What: fmt.Sprintf("bad request magic 0x%x", magic)}
	}
	if size > maxInputSize {
		return nil, &ProtocolError{What: fmt.Sprintf("input size %v exceeds limit %v", size, maxInputSize)}
	}
	data := ch.buf[:size]
	if _, err := io.ReadFull(ch.rw, data); err != nil {
		return nil, &ProtocolError{What: fmt.Sprintf("truncated input of %v bytes: %v", size, err)}
	}
	return data, nil
}

// sendStatus reports the outcome of one iteration.
func (ch *channel) sendStatus(status uint32) error {
	var reply [8]byte
	binary.LittleEndian.PutUint32(reply[0:], replyMagic)
	binary.LittleEndian.PutUint32(reply[4:], status)
	if _, err := ch.rw.Write(reply[:]); err != nil {
		return &ProtocolError{What: fmt.Sprintf("failed to write reply: %v", err)}
	}
	return nil
}
