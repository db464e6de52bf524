package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
)

const (
	defaultConcurrency = 3
	defaultVolume      = 50
	defaultTailPadding = 3 * time.Second
	defaultDoneTimeout = 5 * time.Minute

	// playStartWindow is how long a device gets to report PLAYING after
	// PlayURI before we assume the clip is already underway.
	playStartWindow = 2 * time.Second

	// durationSlack covers buffering and transport latency when the
	// caller supplied an expected clip duration.
	durationSlack = 750 * time.Millisecond

	// resumeSettle is how long restored state is given to settle before
	// resuming interrupted playback.
	resumeSettle = 5 * time.Second

	pollInterval = 500 * time.Millisecond
)

// Config tunes orchestrator behaviour. Zero values fall back to
// sensible defaults in New.
type Config struct {
	// DefaultVolume applies to members without an override, 0..100.
	DefaultVolume int

	// MemberVolumes overrides the announcement volume per device
	// address.
	MemberVolumes map[string]int

	// Concurrency caps how many groups are driven simultaneously.
	Concurrency int

	// TailPadding is extra wait after playback appears finished, so the
	// clip's tail is not cut off by the state restore.
	TailPadding time.Duration

	// DoneTimeout bounds the completion wait when no expected duration
	// is supplied.
	DoneTimeout time.Duration

	// PlayStartWindow, ResumeSettle and PollInterval override internal
	// timing, mainly for tests.
	PlayStartWindow time.Duration
	ResumeSettle    time.Duration
	PollInterval    time.Duration
}

// Request describes one announcement to play.
type Request struct {
	// URI is the clip to play, reachable from the speakers.
	URI string

	// Targets are device addresses. Targets sharing a group are
	// collapsed onto one coordinator.
	Targets []string

	// Volume, when positive, overrides all configured volumes for this
	// request.
	Volume int

	// Concurrency, when positive, overrides the configured cap on
	// simultaneously driven groups for this request.
	Concurrency int

	// ExpectedDuration, when positive, replaces completion polling with
	// a fixed wait.
	ExpectedDuration time.Duration
}

// Orchestrator plays announcement clips on groups of speakers,
// snapshotting and restoring whatever was playing before.
type Orchestrator struct {
	resolver Resolver
	cfg      Config
	logger   *logging.Logger

	playedTotal  atomic.Uint64
	failedTotal  atomic.Uint64
	resumedTotal atomic.Uint64
}

// New creates an Orchestrator using the given resolver.
func New(resolver Resolver, cfg Config, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.DefaultVolume <= 0 {
		cfg.DefaultVolume = defaultVolume
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.TailPadding <= 0 {
		cfg.TailPadding = defaultTailPadding
	}
	if cfg.DoneTimeout <= 0 {
		cfg.DoneTimeout = defaultDoneTimeout
	}
	if cfg.PlayStartWindow <= 0 {
		cfg.PlayStartWindow = playStartWindow
	}
	if cfg.ResumeSettle <= 0 {
		cfg.ResumeSettle = resumeSettle
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = pollInterval
	}
	return &Orchestrator{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "playback"),
	}
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	PlayedTotal  uint64
	FailedTotal  uint64
	ResumedTotal uint64
}

// Stats returns a snapshot of the orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		PlayedTotal:  o.playedTotal.Load(),
		FailedTotal:  o.failedTotal.Load(),
		ResumedTotal: o.resumedTotal.Load(),
	}
}

// PlayURL plays the request's clip on every resolved group. Groups are
// driven concurrently up to the configured cap; a failure on one group
// never interrupts the others. The returned error joins all per-group
// failures.
func (o *Orchestrator) PlayURL(ctx context.Context, req Request) error {
	if req.URI == "" {
		return errors.New("playback: empty URI")
	}

	groups, err := o.resolveGroups(req.Targets)
	if err != nil {
		return err
	}

	concurrency := o.cfg.Concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	errs := make([]error, len(groups))

	for i, g := range groups {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = fmt.Errorf("playback: acquiring slot for %s: %w", g.coord.Address(), err)
			continue
		}
		wg.Add(1)
		go func(i int, g group) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("playback: panic on %s: %v", g.coord.Address(), r)
					o.logger.Error("playback panicked", "target", g.coord.Address(), "panic", r)
				}
			}()
			errs[i] = o.playOne(ctx, g, req)
		}(i, g)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			o.failedTotal.Add(1)
			o.logger.Error("playback failed", "target", groups[i].coord.Address(), "error", err)
		} else {
			o.playedTotal.Add(1)
		}
	}
	return errors.Join(errs...)
}

// playOne runs the full announcement sequence on one group: snapshot,
// set member volumes, play, wait for completion, restore, and resume
// interrupted playback.
func (o *Orchestrator) playOne(ctx context.Context, g group, req Request) error {
	coord := g.coord
	log := o.logger.With("target", coord.Address(), "name", coord.Name())

	state, err := coord.State()
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	wasPlaying := state == StatePlaying

	snapshot, err := coord.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	o.setMemberVolumes(g, req.Volume, log)

	if err := coord.PlayURI(req.URI); err != nil {
		// The group is untouched apart from volume; restore and bail.
		if rerr := snapshot.Restore(); rerr != nil {
			log.Error("restore after failed play", "error", rerr)
			_ = coord.Stop()
		}
		return fmt.Errorf("play uri: %w", err)
	}

	o.waitForPlaying(ctx, coord)
	if err := o.waitForCompletion(ctx, coord, req.ExpectedDuration); err != nil {
		log.Warn("completion wait interrupted", "error", err)
	}

	if err := snapshot.Restore(); err != nil {
		// A half-restored group stuck looping the announcement is worse
		// than silence.
		log.Error("restore failed, stopping playback", "error", err)
		if serr := coord.Stop(); serr != nil {
			return errors.Join(fmt.Errorf("restore: %w", err), fmt.Errorf("stop: %w", serr))
		}
		return fmt.Errorf("restore: %w", err)
	}

	if wasPlaying {
		if err := sleepCtx(ctx, o.cfg.ResumeSettle); err != nil {
			return nil
		}
		// Some restores bring playback back on their own; only nudge
		// the group when it is still sitting idle.
		state, err := coord.State()
		if err == nil && state == StatePlaying {
			log.Debug("prior playback resumed with restore")
			return nil
		}
		if err := coord.Play(); err != nil {
			log.Warn("failed to resume prior playback", "error", err)
		} else {
			o.resumedTotal.Add(1)
			log.Info("resumed prior playback")
		}
	}
	return nil
}

// setMemberVolumes applies the announcement volume to each requested
// device in the group individually. Devices grouped with a target but
// not themselves requested keep whatever volume they had. A member
// that refuses is logged and skipped; the announcement still plays on
// the rest of the group.
func (o *Orchestrator) setMemberVolumes(g group, requested int, log *logging.Logger) {
	members := g.members
	if len(members) == 0 {
		members = []Device{g.coord}
	}
	for _, member := range members {
		v := o.volumeFor(member.Address(), requested)
		if err := member.SetVolume(v); err != nil {
			log.Warn("failed to set member volume", "member", member.Address(), "error", err)
		}
	}
}

// waitForPlaying polls until the device reports PLAYING or the start
// window elapses. Short clips can finish inside the window, so a
// timeout here is not an error.
func (o *Orchestrator) waitForPlaying(ctx context.Context, coord Device) {
	deadline := time.Now().Add(o.cfg.PlayStartWindow)
	for time.Now().Before(deadline) {
		state, err := coord.State()
		if err == nil && state == StatePlaying {
			return
		}
		if sleepCtx(ctx, o.cfg.PollInterval/5) != nil {
			return
		}
	}
}

// waitForCompletion blocks until the clip has finished. With a known
// duration it simply sleeps; otherwise it polls the transport state
// until the device leaves PLAYING, bounded by the done timeout. Either
// way the tail padding runs afterwards so the restore does not clip the
// final moments of audio.
func (o *Orchestrator) waitForCompletion(ctx context.Context, coord Device, expected time.Duration) error {
	if expected > 0 {
		if err := sleepCtx(ctx, expected+durationSlack); err != nil {
			return err
		}
		return sleepCtx(ctx, o.cfg.TailPadding)
	}

	deadline := time.Now().Add(o.cfg.DoneTimeout)
	for time.Now().Before(deadline) {
		state, err := coord.State()
		if err == nil && state != StatePlaying && state != StateTransitioning {
			break
		}
		if err := sleepCtx(ctx, o.cfg.PollInterval); err != nil {
			return err
		}
	}
	return sleepCtx(ctx, o.cfg.TailPadding)
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
