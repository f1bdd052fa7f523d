package protocol

import (
	"encoding/binary"

	"github.com/danmuck/wamctl/internal/protocol/tlv"
)

// Marshal encodes msg as one datagram. Magic, version, header_len and
// payload_len are filled in from the fields; the caller sets the rest.
func Marshal(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidLength
	}
	payload := tlv.EncodeFields(msg.Fields)
	if len(payload) > MaxDatagramSize-int(HeaderSize) {
		return nil, ErrPayloadTooLarge
	}

	head := msg.Header
	head.Magic = Magic
	head.Version = Version
	head.HeaderLen = HeaderSize
	head.PayloadLen = uint64(len(payload))

	buf := make([]byte, 0, int(HeaderSize)+len(payload))
	buf = append(buf, EncodeHeader(head)...)
	return append(buf, payload...), nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}
