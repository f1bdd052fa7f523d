package protocol

import "github.com/danmuck/wamctl/internal/protocol/tlv"

const (
	// Magic is "WAM1" read as a big-endian uint32.
	Magic      uint32 = 0x57414D31
	Version    uint16 = 1
	HeaderSize uint16 = 32

	// MaxDatagramSize bounds one datagram on the wire, header included.
	MaxDatagramSize = 64 * 1024
)

// Header is the fixed frame header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Message is one framed datagram: a header and its TLV payload.
type Message struct {
	Header Header
	Fields []tlv.Field
}
