// Package session owns the wire helpers shared by coordinator and workers.
//
// Ownership boundary:
// - coordinator control envelopes (JSON lines)
// - halo hello/strip frames between neighbouring workers
// - dial timeouts and retry backoff
package session
