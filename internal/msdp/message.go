package msdp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType is the TLV type of an MSDP message (RFC 3618 Section 12).
type MessageType uint8

const (
	// TypeSourceActive carries Source-Active entries.
	TypeSourceActive MessageType = 1

	// TypeSourceActiveRequest asks for cached Source-Active entries.
	TypeSourceActiveRequest MessageType = 2

	// TypeSourceActiveResponse answers a Source-Active request.
	TypeSourceActiveResponse MessageType = 3

	// TypeKeepalive keeps a session up.
	TypeKeepalive MessageType = 4
)

const (
	// headerLen is the size of the type and length fields.
	headerLen = 3

	// maxMessageLen is the largest message a peer may send.
	maxMessageLen = 9192
)

// keepaliveMessage is the only message this package sends.
var keepaliveMessage = []byte{byte(TypeKeepalive), 0, headerLen}

// ErrBadLength indicates a TLV length outside [3, 9192].
var ErrBadLength = errors.New("invalid MSDP message length")

// String returns the RFC name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeSourceActive:
		return "SA"
	case TypeSourceActiveRequest:
		return "SA-Request"
	case TypeSourceActiveResponse:
		return "SA-Response"
	case TypeKeepalive:
		return "Keepalive"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// readMessage reads one TLV and returns its type. buf must hold at least
// maxMessageLen bytes. The value is discarded.
func readMessage(r io.Reader, buf []byte) (MessageType, error) {
	if _, err := io.ReadFull(r, buf[:headerLen]); err != nil {
		return 0, err
	}

	typ := MessageType(buf[0])
	length := int(binary.BigEndian.Uint16(buf[1:headerLen]))
	if length < headerLen || length > maxMessageLen {
		return typ, fmt.Errorf("%s length %d: %w", typ, length, ErrBadLength)
	}

	if _, err := io.ReadFull(r, buf[headerLen:length]); err != nil {
		return typ, err
	}
	return typ, nil
}
