// Package gateway listens for announcement requests on the bus and
// speaks them through the house speakers.
//
// The gateway is strict about input: only well-formed envelopes of
// type announce.request with non-empty text are acted on. Everything
// else is counted and dropped. During configured quiet hours the
// request is suppressed and an announce.suppressed event is published
// in its place, continuing the original trace.
package gateway
