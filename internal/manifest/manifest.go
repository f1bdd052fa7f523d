// Package manifest loads the client-side app manifest: the app identity, the
// URL it serves, and the shell surfaces it asks the host for.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/wamctl/internal/channel"
	"github.com/danmuck/wamctl/internal/surface"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidManifest = errors.New("manifest: invalid")

type Manifest struct {
	ID         string          `toml:"id"`
	Name       string          `toml:"name"`
	URL        string          `toml:"url"`
	Width      int             `toml:"width"`
	Height     int             `toml:"height"`
	EntryPoint EntryPoint      `toml:"entrypoint"`
	Surfaces   []SurfaceConfig `toml:"surfaces"`
}

// EntryPoint is where surface sources are served from. Unset fields are
// taken from URL.
type EntryPoint struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Token string `toml:"token"`
}

type SurfaceConfig struct {
	Role  string `toml:"role"`
	Edge  string `toml:"edge"`
	Width uint32 `toml:"width"`
	Src   string `toml:"src"`
}

func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest load failed (%s): %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes, fills defaults and validates. Unknown keys are rejected so
// a misspelled surface attribute does not silently drop a panel.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrInvalidManifest, strict.String())
		}
		return Manifest{}, fmt.Errorf("manifest parse failed: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = m.ID
	}
	if err := m.fillEntryPoint(); err != nil {
		return Manifest{}, err
	}
	if err := Validate(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m *Manifest) fillEntryPoint() error {
	if m.URL == "" {
		return nil
	}
	u, err := url.Parse(m.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidManifest, err)
	}
	if m.EntryPoint.Host == "" {
		m.EntryPoint.Host = u.Hostname()
	}
	if m.EntryPoint.Port == 0 {
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("%w: url port %q", ErrInvalidManifest, p)
			}
			m.EntryPoint.Port = port
		}
	}
	if m.EntryPoint.Token == "" {
		m.EntryPoint.Token = u.Query().Get("token")
	}
	return nil
}

func Validate(m Manifest) error {
	if strings.TrimSpace(m.ID) == "" || strings.ContainsAny(m.ID, " \t\r\n") {
		return fmt.Errorf("%w: id %q", ErrInvalidManifest, m.ID)
	}
	if m.Width < 0 || m.Height < 0 {
		return fmt.Errorf("%w: negative size %dx%d", ErrInvalidManifest, m.Width, m.Height)
	}
	if len(m.Surfaces) > 0 && m.EntryPoint.Host == "" {
		return fmt.Errorf("%w: surfaces need an entrypoint host", ErrInvalidManifest)
	}
	backgrounds := 0
	for i, sc := range m.Surfaces {
		if err := sc.validate(); err != nil {
			return fmt.Errorf("surface[%d]: %w", i, err)
		}
		if strings.EqualFold(strings.TrimSpace(sc.Role), "background") {
			backgrounds++
		}
	}
	if backgrounds > 1 {
		return fmt.Errorf("%w: %d background surfaces", ErrInvalidManifest, backgrounds)
	}
	return nil
}

func (sc SurfaceConfig) validate() error {
	kind, err := surface.ParseKind(sc.Role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if strings.TrimSpace(sc.Src) == "" {
		return fmt.Errorf("%w: %s surface missing src", ErrInvalidManifest, kind)
	}
	if kind == surface.Panel && surface.ParseEdge(sc.Edge) == surface.None {
		return fmt.Errorf("%w: panel edge %q", ErrInvalidManifest, sc.Edge)
	}
	return nil
}

// Descriptors returns the surfaces in manifest order with entry points
// composed against EntryPoint.
func (m Manifest) Descriptors() []surface.Descriptor {
	out := make([]surface.Descriptor, 0, len(m.Surfaces))
	for _, sc := range m.Surfaces {
		entry := surface.ComposeEntryPoint(sc.Src, m.EntryPoint.Host, m.EntryPoint.Port, m.EntryPoint.Token)
		kind, _ := surface.ParseKind(sc.Role)
		if kind == surface.Panel {
			out = append(out, surface.NewPanel(surface.ParseEdge(sc.Edge), sc.Width, sc.Src, entry))
			continue
		}
		out = append(out, surface.NewBackground(sc.Src, entry))
	}
	return out
}

// StartAppArgs fills a start-app request for the calling process.
func (m Manifest) StartAppArgs(pid int) channel.StartAppArgs {
	return channel.StartAppArgs{
		AppID:  m.ID,
		AppURI: m.URL,
		PID:    pid,
		Width:  m.Width,
		Height: m.Height,
	}
}

// Origin returns host:port of the entry point, for logging.
func (m Manifest) Origin() string {
	return net.JoinHostPort(m.EntryPoint.Host, strconv.Itoa(m.EntryPoint.Port))
}
