package base

import (
	"encoding/binary"
	"io"
	"net"
)

// frameKind discriminates the payloads multiplexed over one connection
type frameKind byte

const (
	// frameUnary carries a unary request (client to server) or its response
	frameUnary frameKind = iota
	// frameStreamOpen carries a stream request (client to server)
	frameStreamOpen
	// frameStreamItem carries one element of an open stream (server to client)
	frameStreamItem
	// frameStreamEnd terminates an open stream (server to client); a non-empty
	// payload is the error message the stream failed with
	frameStreamEnd
	// frameStreamCancel cancels an open stream (client to server)
	frameStreamCancel
)

// frameHeaderSize is the fixed frame header length:
// - 8 bytes: shardId (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 1 byte:  frame kind
// - 4 bytes: data length (uint32, big endian)
const frameHeaderSize = 21

// writeFrame writes a frame to the connection, followed by N payload bytes
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, kind frameKind, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	header[16] = byte(kind)
	binary.BigEndian.PutUint32(header[17:21], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data
func readFrame(conn net.Conn, buf []byte) (uint64, uint64, frameKind, []byte, error) {
	// Check if buffer is large enough for header
	if buf == nil || len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize) // create header buffer
	}

	// Read header
	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return 0, 0, frameUnary, nil, err
	}

	// Parse header
	shardID := binary.BigEndian.Uint64(buf[:8])
	requestID := binary.BigEndian.Uint64(buf[8:16])
	kind := frameKind(buf[16])
	contentLength := binary.BigEndian.Uint32(buf[17:21])

	// If no data, return empty slice
	if contentLength == 0 {
		return shardID, requestID, kind, []byte{}, nil
	}

	// Check if buffer is large enough for data
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	// Read data
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, kind, nil, err
	}

	// Return data
	return shardID, requestID, kind, buf[:contentLength], nil
}
