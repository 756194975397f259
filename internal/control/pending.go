package control

import (
	"sync"

	"raysession/internal/protocol"
)

// Result is the terminal state of a request.
type Result struct {
	// Code is the process exit code for the outcome.
	Code int
	// Failed is set when the daemon answered with an error reply.
	Failed bool
	// ServerCode is the daemon error code when Failed.
	ServerCode protocol.Code
	// Message is the error text when Failed.
	Message string
	// Interrupted is set when a signal ended the wait before completion.
	Interrupted bool
}

// Pending is the single outstanding request of a client process. It
// completes at most once; later completions are ignored.
type Pending struct {
	path   string
	once   sync.Once
	done   chan struct{}
	result Result
}

// NewPending tracks a request sent on path.
func NewPending(path string) *Pending {
	return &Pending{path: path, done: make(chan struct{})}
}

// Path is the request path replies must echo.
func (p *Pending) Path() string { return p.path }

// Complete resolves the request successfully with code. It reports whether
// this call performed the completion.
func (p *Pending) Complete(code int) bool {
	return p.resolve(Result{Code: code})
}

// Fail resolves the request from an error reply.
func (p *Pending) Fail(code protocol.Code, message string) bool {
	return p.resolve(Result{
		Code:       protocol.ExitCodeFor(code),
		Failed:     true,
		ServerCode: code,
		Message:    message,
	})
}

func (p *Pending) resolve(r Result) bool {
	resolved := false
	p.once.Do(func() {
		p.result = r
		resolved = true
		close(p.done)
	})
	return resolved
}

// Done is closed once the request has completed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (p *Pending) Result() Result {
	<-p.done
	return p.result
}
