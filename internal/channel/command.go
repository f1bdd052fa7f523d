package channel

import (
	"fmt"
	"strconv"

	"github.com/danmuck/wamctl/internal/protocol/schema"
	"github.com/danmuck/wamctl/internal/surface"
)

// Kind identifies a command. Values match the framed message type.
type Kind uint32

const (
	StartApp        = Kind(schema.MsgStartApp)
	ActivateEvent   = Kind(schema.MsgActivateEvent)
	DeactivateEvent = Kind(schema.MsgDeactivateEvent)
	KilledApp       = Kind(schema.MsgKilledApp)
	ReadyEvent      = Kind(schema.MsgReadyEvent)
)

func (k Kind) String() string {
	if name, ok := schema.Name(uint32(k)); ok {
		return name
	}
	return "kind(" + strconv.FormatUint(uint64(k), 10) + ")"
}

// ParseKind maps a wire command name to its Kind.
func ParseKind(name string) (Kind, bool) {
	id, ok := schema.Lookup(name)
	return Kind(id), ok
}

// Command is one decoded lifecycle command. It is immutable: accessors hand
// out copies.
type Command struct {
	kind     Kind
	args     []string
	blob     []byte
	surfaces []surface.Descriptor
}

// StartAppArgs is the typed view of a start-app command's arguments.
type StartAppArgs struct {
	AppID  string
	AppURI string
	PID    int
	Width  int
	Height int
}

func (c Command) Kind() Kind { return c.kind }

func (c Command) Args() []string {
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

// Arg returns argument i, or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.args) {
		return ""
	}
	return c.args[i]
}

// AppID returns the first argument, which names the target app for every
// command kind.
func (c Command) AppID() string { return c.Arg(0) }

func (c Command) HasBlob() bool { return len(c.blob) > 0 }

// Blob returns a copy of the attached payload, or nil.
func (c Command) Blob() []byte {
	if len(c.blob) == 0 {
		return nil
	}
	out := make([]byte, len(c.blob))
	copy(out, c.blob)
	return out
}

// Surfaces returns the decoded surface list attached to a start-app, or nil
// when none was sent.
func (c Command) Surfaces() []surface.Descriptor {
	if c.surfaces == nil {
		return nil
	}
	out := make([]surface.Descriptor, len(c.surfaces))
	copy(out, c.surfaces)
	return out
}

// StartApp parses the start-app argument tuple. pid, width and height must be
// non-negative base-10 integers.
func (c Command) StartApp() (StartAppArgs, error) {
	if c.kind != StartApp {
		return StartAppArgs{}, protocolErr("not start-app", ErrUnknownCommand)
	}
	if len(c.args) < 5 {
		return StartAppArgs{}, protocolErr("start-app", ErrMissingArgument)
	}
	out := StartAppArgs{AppID: c.args[0], AppURI: c.args[1]}
	ints := []*int{&out.PID, &out.Width, &out.Height}
	for i, dst := range ints {
		raw := c.args[2+i]
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return StartAppArgs{}, protocolErr(fmt.Sprintf("start-app arg %d=%q", 2+i, raw), ErrBadInteger)
		}
		*dst = v
	}
	return out, nil
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v blob=%d", c.kind, c.args, len(c.blob))
}

// NewStartApp builds a start-app command. A non-empty surface list is encoded
// into the blob.
func NewStartApp(a StartAppArgs, surfaces []surface.Descriptor) (Command, error) {
	cmd := Command{
		kind: StartApp,
		args: []string{
			a.AppID,
			a.AppURI,
			strconv.Itoa(a.PID),
			strconv.Itoa(a.Width),
			strconv.Itoa(a.Height),
		},
	}
	if len(surfaces) == 0 {
		return cmd, nil
	}
	blob, err := surface.Encode(surfaces)
	if err != nil {
		return Command{}, err
	}
	cmd.blob = blob
	cmd.surfaces = append([]surface.Descriptor(nil), surfaces...)
	return cmd, nil
}

func NewActivate(appID string) Command   { return newSimple(ActivateEvent, appID) }
func NewDeactivate(appID string) Command { return newSimple(DeactivateEvent, appID) }
func NewKilled(appID string) Command     { return newSimple(KilledApp, appID) }
func NewReady(id string) Command         { return newSimple(ReadyEvent, id) }

func newSimple(kind Kind, arg string) Command {
	return Command{kind: kind, args: []string{arg}}
}

// build validates a freshly decoded command and decodes its blob. Both wire
// formats funnel through here.
func build(kind Kind, args []string, blob []byte) (Command, error) {
	want, ok := schema.Arity(uint32(kind))
	if !ok {
		return Command{}, protocolErr(kind.String(), ErrUnknownCommand)
	}
	if len(args) < want {
		return Command{}, protocolErr(
			fmt.Sprintf("%s wants %d args, got %d", kind, want, len(args)),
			ErrMissingArgument,
		)
	}
	cmd := Command{kind: kind, args: args}
	if kind == StartApp {
		if _, err := cmd.StartApp(); err != nil {
			return Command{}, err
		}
	}
	if len(blob) == 0 {
		return cmd, nil
	}
	cmd.blob = blob
	if kind == StartApp {
		list, err := surface.Decode(blob)
		if err != nil {
			return Command{}, protocolErr("surfaces", err)
		}
		cmd.surfaces = list
	}
	return cmd, nil
}
