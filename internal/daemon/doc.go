// Package daemon is the long-running session server.
//
// A Daemon owns one loopback UDP endpoint and serves every control operation
// from a single loop: list operations stream their items, simple operations
// reply with a status message, and session transitions (save, close, abort,
// open, new, duplicate, open_snapshot) run as supervised sequences in the
// background while further session-changing requests are refused as busy.
//
// On start the daemon records itself in the registry, optionally claims the
// per-user default slot, and sends one announce to the control address it was
// launched with. Its record is removed on shutdown.
package daemon
