package dispatch

import "github.com/danmuck/wamctl/internal/surface"

// AppDescriptor describes an application to launch. Main is set for URL
// launches; FolderPath is set when the startup URI names an installed app
// directory and the facade resolves the rest.
type AppDescriptor struct {
	ID             string
	Main           string
	FolderPath     string
	Type           string
	Version        string
	Vendor         string
	Title          string
	UIRevision     string
	SurfaceID      int
	WidthOverride  int
	HeightOverride int
	Surfaces       []surface.Descriptor
}

// AppHandle is a running application as seen by the facade.
type AppHandle interface {
	AppID() string
}

// Facade is the application lifecycle collaborator the dispatcher drives.
// Every method is called on the loop goroutine.
type Facade interface {
	Launch(desc AppDescriptor, params string, launchingAppID string) (instanceID string, err error)
	FindAppByID(appID string) (AppHandle, bool)
	Activate(app AppHandle) error
	Deactivate(app AppHandle) error
	Kill(appID, instanceID string) error
}

// ReadyNotifier is implemented by facades that care about ready-event.
type ReadyNotifier interface {
	NotifyReady(id string) error
}

// Observer sees dispatcher outcomes. Metrics implement it.
type Observer interface {
	Applied(command string)
	Dropped(command, reason string)
	FacadeFailed(op string)
}

type nopObserver struct{}

func (nopObserver) Applied(string)         {}
func (nopObserver) Dropped(string, string) {}
func (nopObserver) FacadeFailed(string)    {}
