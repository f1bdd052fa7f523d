package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/wamctl/internal/protocol/tlv"
)

// IsFramed reports whether buf starts with the frame magic.
func IsFramed(buf []byte) bool {
	return len(buf) >= 4 && binary.BigEndian.Uint32(buf[0:4]) == Magic
}

// Unmarshal decodes one complete datagram. The header's payload_len must
// account for exactly the bytes that follow it.
func Unmarshal(buf []byte) (*Message, error) {
	if len(buf) < int(HeaderSize) {
		return nil, ErrTruncated
	}
	head, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		return nil, err
	}
	rest := buf[HeaderSize:]
	if head.PayloadLen != uint64(len(rest)) {
		return nil, fmt.Errorf("%w: payload_len=%d have=%d", ErrTruncated, head.PayloadLen, len(rest))
	}
	fields, err := tlv.DecodeFields(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLength, err)
	}
	return &Message{Header: head, Fields: fields}, nil
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderSize) {
		return Header{}, ErrTruncated
	}
	h := Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	if h.HeaderLen != HeaderSize {
		return Header{}, ErrInvalidHeaderLen
	}
	return h, nil
}
