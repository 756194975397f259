// Package registry is the discovery surface shared by every local ray-daemon
// and ray-control process.
//
// Each daemon inserts one DaemonRecord into a SQLite database when it
// announces and deletes it on exit. Clients enumerate the table to find the
// default daemon for their user. Records of processes that died without
// cleaning up are pruned lazily during enumeration. The table is a hint for
// discovery only; the default flag is guarded by a per-user file lock so two
// daemons never both claim it.
package registry
