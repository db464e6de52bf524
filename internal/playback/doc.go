// Package playback plays announcement clips on groups of network
// speakers and puts everything back the way it was.
//
// # Sequence
//
// For each resolved group coordinator the orchestrator snapshots the
// current playback state, applies the announcement volume to each
// requested device in the group, plays the clip, waits for it to
// finish, restores the snapshot, and resumes interrupted playback
// after a settle delay when the restore has not already done so.
//
// # Grouping
//
// Speakers form groups led by a coordinator. Playback commands only
// have effect on coordinators, so configured targets are mapped to
// their coordinators and deduplicated: naming two members of the same
// group plays the announcement once, not twice.
//
// # Isolation
//
// Groups are driven concurrently, bounded by a semaphore. Each group
// runs in its own goroutine with a panic guard, so one misbehaving
// speaker cannot take down the announcement on the others.
//
// Hardware access is abstracted behind the Device and Resolver
// interfaces. The stub backend logs instead of playing and is the
// default until a real backend is configured.
package playback
