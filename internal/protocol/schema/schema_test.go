package schema

import (
	"bytes"
	"testing"

	"github.com/danmuck/wamctl/internal/protocol/tlv"
	"github.com/danmuck/wamctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func startAppFields() []tlv.Field {
	return []tlv.Field{
		tlv.NewString(ArgID(0), "webapp"),
		tlv.NewString(ArgID(1), "http://localhost:8080/"),
		tlv.NewString(ArgID(2), "1234"),
		tlv.NewString(ArgID(3), "1920"),
		tlv.NewString(ArgID(4), "1080"),
	}
}

func TestValidateStartAppRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgStartApp, startAppFields()); err != nil {
		t.Fatalf("validate start-app: %v", err)
	}
	withBlob := append(startAppFields(), tlv.NewBytes(FieldSurfaces, []byte{0xa0}))
	if err := Validate(MsgStartApp, withBlob); err != nil {
		t.Fatalf("validate start-app with surfaces: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.NewString(ArgID(0), "webapp"),
		tlv.NewString(ArgID(1), "extra-trailing-arg"),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgActivateEvent, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := startAppFields()[:2]
	err := Validate(MsgStartApp, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != ArgID(2) || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.NewBytes(ArgID(0), []byte{0, 0, 0, 1})}
	err := Validate(MsgKilledApp, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != ArgID(0) || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateSurfacesMustBeBytes(t *testing.T) {
	testlog.Start(t)
	fields := append(startAppFields(), tlv.NewString(FieldSurfaces, "not-a-blob"))
	err := Validate(MsgStartApp, fields)
	ve, ok := err.(ValidationError)
	if !ok || ve.FieldID != FieldSurfaces {
		t.Fatalf("expected surfaces type mismatch, got %v", err)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(42, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNamesAndArity(t *testing.T) {
	testlog.Start(t)
	for id, name := range names {
		got, ok := Lookup(name)
		if !ok || got != id {
			t.Fatalf("Lookup(%q) = %d,%v", name, got, ok)
		}
	}
	if _, ok := Lookup("launch-app"); ok {
		t.Fatalf("unexpected command name accepted")
	}
	if n, _ := Arity(MsgStartApp); n != 5 {
		t.Fatalf("start-app arity = %d", n)
	}
	if n, _ := Arity(MsgReadyEvent); n != 1 {
		t.Fatalf("ready-event arity = %d", n)
	}
}

// Rejections are reported by the listener's rate-limited drop warning, so
// Validate itself must stay quiet at warn and above.
func TestValidateRejectionsLogBelowWarn(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.WarnLevel)
	defer func() { log.Logger = prev }()

	_ = Validate(9999, nil)
	_ = Validate(MsgKilledApp, nil)
	_ = Validate(MsgKilledApp, []tlv.Field{tlv.NewBytes(ArgID(0), []byte{1})})
	_ = Validate(MsgStartApp, append(startAppFields(), tlv.NewString(FieldSurfaces, "x")))
	if buf.Len() != 0 {
		t.Fatalf("Validate logged at warn or above:\n%s", buf.String())
	}
}
