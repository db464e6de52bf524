package playback

import (
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
)

// StubResolver resolves every address into a device that logs playback
// instead of driving hardware. It is the safe default backend: a
// misconfigured deployment announces into the log rather than blasting
// audio through a house at 3am.
type StubResolver struct {
	logger *logging.Logger
}

// NewStubResolver creates a StubResolver.
func NewStubResolver(logger *logging.Logger) *StubResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubResolver{logger: logger.With("component", "playback.stub")}
}

func (r *StubResolver) Resolve(addr string) (Device, error) {
	return &stubDevice{addr: addr, logger: r.logger}, nil
}

type stubDevice struct {
	addr   string
	logger *logging.Logger
}

func (d *stubDevice) Address() string        { return d.addr }
func (d *stubDevice) Name() string           { return "stub-" + d.addr }
func (d *stubDevice) IsCoordinator() bool    { return true }
func (d *stubDevice) Coordinator() Device    { return d }
func (d *stubDevice) GroupMembers() []Device { return []Device{d} }

func (d *stubDevice) State() (State, error) { return StateStopped, nil }

func (d *stubDevice) SetVolume(volume int) error {
	d.logger.Info("would set volume", "device", d.addr, "volume", volume)
	return nil
}

func (d *stubDevice) PlayURI(uri string) error {
	d.logger.Info("would play", "device", d.addr, "uri", uri)
	return nil
}

func (d *stubDevice) Play() error { return nil }
func (d *stubDevice) Stop() error { return nil }

func (d *stubDevice) Snapshot() (Snapshot, error) {
	return stubSnapshot{}, nil
}

type stubSnapshot struct{}

func (stubSnapshot) Restore() error { return nil }
