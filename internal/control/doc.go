// Package control implements the client half of the control channel.
//
// A Client sends exactly one request per process and waits for its
// completion on a single loop: replies, error replies, the daemon's announce,
// the announce deadline, a periodic no-op tick and context cancellation are
// all observed from one select. The handshake state is an explicit value
// passed into and returned from the message handler rather than a flag
// shared between goroutines, and the outstanding request is a Pending that
// can complete only once.
//
// Invoke layers discovery on top: it finds the user's default daemon through
// the registry, starts one when a server operation has nobody to talk to, and
// maps the outcome to a process exit code.
package control
