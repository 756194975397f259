package protocol

// Code is a daemon-reported error code. The daemon only emits negative codes;
// positive codes from other peers are accepted as-is.
type Code int

const (
	ErrGeneric          Code = -1
	ErrUnknownMessage   Code = -2
	ErrNoSessionOpen    Code = -3
	ErrBadArguments     Code = -4
	ErrOperationPending Code = -5
	ErrScriptFailed     Code = -6
	ErrNotFound         Code = -7
	ErrAlreadyExists    Code = -8
	ErrLaunchFailed     Code = -9
)

// Process exit codes shared by the binaries.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 100
)

// ExitCodeFor maps a daemon error code onto a process exit status. The
// magnitude of the code is used, clamped to 1..255. Codes that would read as
// success or as the usage status become the generic failure.
func ExitCodeFor(code Code) int {
	n := int(code)
	if n < 0 {
		n = -n
	}
	switch {
	case n == 0, n == ExitUsage:
		return ExitFailure
	case n > 255:
		return 255
	default:
		return n
	}
}
