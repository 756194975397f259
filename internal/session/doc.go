// Package session is the daemon's view of the session root and of the
// session currently loaded: which session folders and templates exist, the
// clients added to the open session and its checkpoints.
//
// It only tracks state. What saving a session writes into its folder is the
// business of the client programs and helper scripts, not of this package.
package session
