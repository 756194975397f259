// Package supervisor launches helper processes for the daemon and drives the
// stepper handshake used by multi-stage session transitions.
//
// Every child moves through NotStarted, Running and then either Finished with
// its exit code or LaunchError with LaunchErrorCode. Output is streamed line
// by line to the logger tagged with the executable's base name.
//
// A stepper is a child told, through its environment, how to call back into
// the daemon. When it calls back the supervisor marks it acknowledged and the
// enclosing Sequence runs the synchronized action before releasing it. A
// stepper that exits without calling back is reported SyncMissing whatever its
// exit code. Sequences stop at the first abnormal child and never undo
// earlier stages.
package supervisor
