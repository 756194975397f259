// Command ray-control sends one operation to the user's default session
// daemon and prints the reply.
//
//	ray-control <operation> [arguments...]
//
// Server operations start a daemon when none is running; session operations
// need one. Helper subcommands list running daemons (daemons), print the
// snapshot history grouped by date (timeline), call back from a stepper script
// (run_step) and write a sample configuration (config init).
package main
