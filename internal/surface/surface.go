// Package surface describes the compositor shell surfaces a launching web
// application asks for, and serializes an ordered list of them into the
// binary blob carried by a start-app command.
package surface

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidDescriptor = errors.New("surface: invalid descriptor")

// Kind is the shell role requested for a surface.
type Kind uint8

const (
	Background Kind = iota
	Panel
)

func (k Kind) String() string {
	switch k {
	case Background:
		return "background"
	case Panel:
		return "panel"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) valid() bool {
	return k == Background || k == Panel
}

// Edge is the output edge a panel docks to. None is only meaningful for
// backgrounds.
type Edge int8

const (
	None Edge = iota - 1
	Top
	Bottom
	Left
	Right
)

func (e Edge) String() string {
	switch e {
	case None:
		return "none"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "edge(" + strconv.Itoa(int(e)) + ")"
	}
}

func (e Edge) docked() bool {
	return e >= Top && e <= Right
}

// Descriptor is one requested shell surface. Edge and Width only matter for
// panels.
type Descriptor struct {
	Kind       Kind
	Edge       Edge
	Width      uint32
	Source     string
	EntryPoint string
}

// NewBackground returns a background descriptor for src.
func NewBackground(src, entryPoint string) Descriptor {
	return Descriptor{Kind: Background, Edge: None, Source: src, EntryPoint: entryPoint}
}

// NewPanel returns a panel descriptor docked to edge.
func NewPanel(edge Edge, width uint32, src, entryPoint string) Descriptor {
	return Descriptor{Kind: Panel, Edge: edge, Width: width, Source: src, EntryPoint: entryPoint}
}

// Validate checks the discriminant and, for panels, the edge.
func (d Descriptor) Validate() error {
	if !d.Kind.valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidDescriptor, d.Kind)
	}
	if d.Kind == Panel && !d.Edge.docked() {
		return fmt.Errorf("%w: panel edge %s", ErrInvalidDescriptor, d.Edge)
	}
	return nil
}

// ParseKind maps a config role string to a Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "background":
		return Background, nil
	case "panel":
		return Panel, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidDescriptor, raw)
	}
}

// ParseEdge maps a config edge string to an Edge. Unknown strings map to
// None so callers can decide whether that is acceptable.
func ParseEdge(raw string) Edge {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "top":
		return Top
	case "bottom":
		return Bottom
	case "left":
		return Left
	case "right":
		return Right
	default:
		return None
	}
}

// ComposeEntryPoint builds the URL a surface loads from its src attribute:
// http://host:port/<src>/index.html?token=<token>. A src that starts with a
// slash is served from the root.
func ComposeEntryPoint(src, host string, port int, token string) string {
	var b strings.Builder
	b.WriteString("http://")
	b.WriteString(host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(port))

	i := strings.IndexByte(src, '/')
	switch {
	case i < 0:
		b.WriteByte('/')
		b.WriteString(src)
		b.WriteByte('/')
	case i > 0:
		b.WriteByte('/')
		b.WriteString(src)
	default:
		b.WriteByte('/')
	}

	b.WriteString("index.html?token=")
	b.WriteString(token)
	return b.String()
}
