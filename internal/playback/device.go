package playback

// State is a device transport state as reported by the speaker.
type State string

const (
	StatePlaying       State = "PLAYING"
	StatePaused        State = "PAUSED_PLAYBACK"
	StateStopped       State = "STOPPED"
	StateTransitioning State = "TRANSITIONING"
)

// Device is a single playback endpoint. Implementations wrap whatever
// control protocol the speaker speaks; the orchestrator only sequences
// calls against this surface.
//
// Methods may block on network I/O and are not required to be safe for
// concurrent use. The orchestrator serializes all calls to one device.
type Device interface {
	// Address is the stable identity of the device, typically its IP.
	Address() string

	// Name is a human-readable label for logs.
	Name() string

	// IsCoordinator reports whether this device leads its group.
	IsCoordinator() bool

	// Coordinator returns the device leading this device's group. A
	// coordinator returns itself.
	Coordinator() Device

	// GroupMembers returns every device in this device's group,
	// including the coordinator.
	GroupMembers() []Device

	// State returns the current transport state.
	State() (State, error)

	// SetVolume sets the device volume, 0 to 100.
	SetVolume(volume int) error

	// PlayURI replaces the current track with the given URI and starts
	// playback on the group.
	PlayURI(uri string) error

	// Play resumes whatever the device was playing before.
	Play() error

	// Stop halts playback.
	Stop() error

	// Snapshot captures the full playback state of the group for later
	// restoration.
	Snapshot() (Snapshot, error)
}

// Snapshot restores a previously captured playback state: queue,
// track position, volume and transport state.
type Snapshot interface {
	Restore() error
}

// Resolver turns a configured target address into a live Device.
type Resolver interface {
	Resolve(addr string) (Device, error)
}
