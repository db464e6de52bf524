package playback

import (
	"errors"
	"fmt"
)

// ErrNoTargets is returned when a play request names no resolvable targets.
var ErrNoTargets = errors.New("playback: no targets resolved")

// group is one resolved coordinator together with the requested devices
// that landed in its group. Volume changes are scoped to members, so
// speakers grouped with a target but never requested keep their levels.
type group struct {
	coord   Device
	members []Device
}

// resolveGroups maps target addresses to their group coordinators and
// collapses targets sharing a coordinator into one group, preserving
// first-seen order. Two targets in the same group would otherwise both
// trigger playback on the same coordinator and the announcement would
// play twice.
func (o *Orchestrator) resolveGroups(targets []string) ([]group, error) {
	var groups []group
	index := make(map[string]int, len(targets))
	seen := make(map[string]bool, len(targets))
	var errs []error

	for _, addr := range targets {
		if seen[addr] {
			continue
		}
		seen[addr] = true

		device, err := o.resolver.Resolve(addr)
		if err != nil {
			o.logger.Warn("target unreachable, skipping", "target", addr, "error", err)
			errs = append(errs, fmt.Errorf("resolve %s: %w", addr, err))
			continue
		}
		coord := device
		if !device.IsCoordinator() {
			coord = device.Coordinator()
		}
		i, ok := index[coord.Address()]
		if !ok {
			i = len(groups)
			index[coord.Address()] = i
			groups = append(groups, group{coord: coord})
		}
		groups[i].members = append(groups[i].members, device)
	}

	if len(groups) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %w", ErrNoTargets, errors.Join(errs...))
		}
		return nil, ErrNoTargets
	}
	return groups, nil
}

// volumeFor picks the announcement volume for one group member.
// Precedence: per-request volume, then the member's configured
// override, then the default. The result is clamped to 0..100.
func (o *Orchestrator) volumeFor(addr string, requested int) int {
	v := o.cfg.DefaultVolume
	if override, ok := o.cfg.MemberVolumes[addr]; ok {
		v = override
	}
	if requested > 0 {
		v = requested
	}
	return clampVolume(v)
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
