package channel

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/danmuck/wamctl/internal/protocol"
	"github.com/danmuck/wamctl/internal/protocol/schema"
	"github.com/danmuck/wamctl/internal/protocol/tlv"
)

const (
	legacySeparator  = '|'
	legacyTerminator = '\n'
)

// EncodeFramed renders cmd as a framed datagram tagged with messageID.
func EncodeFramed(cmd Command, messageID uint64) ([]byte, error) {
	if _, ok := schema.Name(uint32(cmd.kind)); !ok {
		return nil, protocolErr(cmd.kind.String(), ErrUnknownCommand)
	}
	fields := make([]tlv.Field, 0, len(cmd.args)+1)
	for i, a := range cmd.args {
		fields = append(fields, tlv.NewString(schema.ArgID(i), a))
	}
	if len(cmd.blob) > 0 {
		fields = append(fields, tlv.NewBytes(schema.FieldSurfaces, cmd.blob))
	}
	buf, err := protocol.Marshal(&protocol.Message{
		Header: protocol.Header{MessageID: messageID, MessageType: uint32(cmd.kind)},
		Fields: fields,
	})
	if errors.Is(err, protocol.ErrPayloadTooLarge) {
		return nil, ErrDatagramTooLarge
	}
	return buf, err
}

// EncodeLegacy renders cmd in the space separated text form older clients
// speak: "name arg... |<blob>\n". Arguments must be non-empty and free of
// spaces, separators and newlines.
func EncodeLegacy(cmd Command) ([]byte, error) {
	name, ok := schema.Name(uint32(cmd.kind))
	if !ok {
		return nil, protocolErr(cmd.kind.String(), ErrUnknownCommand)
	}
	var b bytes.Buffer
	b.WriteString(name)
	for _, a := range cmd.args {
		if a == "" || strings.ContainsAny(a, " |\n") {
			return nil, protocolErr("legacy arg "+strconv.Quote(a), ErrUnencodable)
		}
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if len(cmd.blob) > 0 {
		b.WriteByte(' ')
		b.WriteByte(legacySeparator)
		b.Write(cmd.blob)
	}
	b.WriteByte(legacyTerminator)
	if b.Len() > protocol.MaxDatagramSize {
		return nil, ErrDatagramTooLarge
	}
	return b.Bytes(), nil
}

// Decode parses one datagram in either wire format.
func Decode(buf []byte) (Command, error) {
	if len(buf) == 0 {
		return Command{}, protocolErr("empty datagram", ErrEmptyDatagram)
	}
	if protocol.IsFramed(buf) {
		return decodeFramed(buf)
	}
	return decodeLegacy(buf)
}

func decodeFramed(buf []byte) (Command, error) {
	msg, err := protocol.Unmarshal(buf)
	if err != nil {
		return Command{}, protocolErr("frame", err)
	}
	if err := schema.Validate(msg.Header.MessageType, msg.Fields); err != nil {
		var ve schema.ValidationError
		if errors.As(err, &ve) {
			switch ve.Reason {
			case "unknown message_type":
				return Command{}, protocolErr(Kind(msg.Header.MessageType).String(), ErrUnknownCommand)
			case "missing required field":
				return Command{}, protocolErr(ve.Error(), ErrMissingArgument)
			}
		}
		return Command{}, protocolErr("schema", err)
	}

	byID := tlv.Index(msg.Fields)
	var args []string
	for i := 0; ; i++ {
		f, ok := byID[schema.ArgID(i)]
		if !ok {
			break
		}
		s, err := f.AsString()
		if err != nil {
			return Command{}, protocolErr("arg", err)
		}
		args = append(args, s)
	}

	var blob []byte
	if f, ok := byID[schema.FieldSurfaces]; ok {
		if blob, err = f.AsBytes(); err != nil {
			return Command{}, protocolErr("surfaces", err)
		}
	}
	return build(Kind(msg.Header.MessageType), args, blob)
}

// decodeLegacy splits the text header on single spaces up to the first
// token that starts with the separator byte. Everything after that byte is
// the blob, so a separator inside an argument ("a|b") is not a split point.
// One trailing newline is stripped from the datagram first.
func decodeLegacy(buf []byte) (Command, error) {
	if buf[len(buf)-1] == legacyTerminator {
		buf = buf[:len(buf)-1]
	}
	head := buf
	var blob []byte
	if i := legacySeparatorAt(buf); i >= 0 {
		head = buf[:i]
		if rest := buf[i+1:]; len(rest) > 0 {
			blob = append([]byte(nil), rest...)
		}
	}

	var tokens []string
	for _, tok := range strings.Split(string(head), " ") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return Command{}, protocolErr("no command name", ErrEmptyDatagram)
	}
	kind, ok := ParseKind(tokens[0])
	if !ok {
		return Command{}, protocolErr(strconv.Quote(clip(tokens[0])), ErrUnknownCommand)
	}
	return build(kind, tokens[1:], blob)
}

// legacySeparatorAt returns the index of the first separator byte that
// opens a token, or -1.
func legacySeparatorAt(buf []byte) int {
	for i, c := range buf {
		if c == legacySeparator && (i == 0 || buf[i-1] == ' ') {
			return i
		}
	}
	return -1
}

func clip(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
