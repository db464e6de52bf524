// Package audiohost serves short-lived audio clips over HTTP so that
// network speakers can fetch them.
//
// Speakers pull media by URL; they cannot accept pushed bytes. The host
// writes each clip to a scratch directory under a generated id joined
// to the sanitized original filename, serves it for a bounded TTL, and
// deletes it afterwards. A background sweeper
// removes expired clips and prunes orphaned files left behind by a
// previous crash.
//
// # Addressing
//
// The advertised URL must be reachable from the speaker, not from this
// process. When no public host is configured the host infers its own
// LAN address per request by opening a UDP socket routed towards the
// speaker and reading the chosen source address. No packet is sent; the
// kernel's route lookup does the work.
//
// The HTTP listener starts lazily on the first published clip, so a
// deployment that never announces audio never opens a port.
package audiohost
