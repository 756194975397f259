package protocol

import (
	"fmt"
	"slices"
	"strings"
)

// Well-known message paths.
const (
	PathReply    = "/reply"
	PathError    = "/error"
	PathAnnounce = "/ray/control/server/announce"
	PathRunStep  = "/ray/script/run_step"

	serverPrefix  = "/ray/server/"
	sessionPrefix = "/ray/session/"
)

// Scope classifies an operation by the namespace it lives in.
type Scope int

const (
	ScopeUnknown Scope = iota
	ScopeServer
	ScopeSession
)

func (s Scope) String() string {
	switch s {
	case ScopeServer:
		return "server"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

var serverOperations = []string{
	"quit",
	"change_root",
	"list_session_templates",
	"list_user_client_templates",
	"list_factory_client_templates",
	"remove_client_template",
	"list_sessions",
	"new_session",
	"open_session",
}

var sessionOperations = []string{
	"save",
	"save_as_template",
	"take_snapshot",
	"close",
	"abort",
	"duplicate",
	"open_snapshot",
	"rename",
	"add_executable",
	"add_proxy",
	"add_client_template",
	"list_snapshots",
}

var listOperations = []string{
	"list_sessions",
	"list_session_templates",
	"list_user_client_templates",
	"list_factory_client_templates",
	"list_snapshots",
}

// ServerOperations returns the server-scoped operation names.
func ServerOperations() []string { return slices.Clone(serverOperations) }

// SessionOperations returns the session-scoped operation names.
func SessionOperations() []string { return slices.Clone(sessionOperations) }

// ScopeOf reports which namespace op belongs to.
func ScopeOf(op string) Scope {
	switch {
	case slices.Contains(serverOperations, op):
		return ScopeServer
	case slices.Contains(sessionOperations, op):
		return ScopeSession
	default:
		return ScopeUnknown
	}
}

// ResolvePath returns the full message path for op.
func ResolvePath(op string) (string, Scope, error) {
	op = strings.TrimSpace(op)
	switch scope := ScopeOf(op); scope {
	case ScopeServer:
		return serverPrefix + op, scope, nil
	case ScopeSession:
		return sessionPrefix + op, scope, nil
	default:
		return "", ScopeUnknown, fmt.Errorf("unknown operation %q", op)
	}
}

// Operation extracts the operation name and scope from a full path.
func Operation(path string) (string, Scope) {
	if op, ok := strings.CutPrefix(path, serverPrefix); ok && ScopeOf(op) == ScopeServer {
		return op, ScopeServer
	}
	if op, ok := strings.CutPrefix(path, sessionPrefix); ok && ScopeOf(op) == ScopeSession {
		return op, ScopeSession
	}
	return "", ScopeUnknown
}

// IsList reports whether replies to path stream an item listing.
func IsList(path string) bool {
	op, scope := Operation(path)
	return scope != ScopeUnknown && slices.Contains(listOperations, op)
}

// ItemName trims the decoration from a listing item: "name/icon" and
// "name:info" both yield "name".
func ItemName(path, item string) string {
	op, _ := Operation(path)
	switch op {
	case "list_snapshots":
		name, _, _ := strings.Cut(item, ":")
		return name
	case "list_user_client_templates", "list_factory_client_templates":
		name, _, _ := strings.Cut(item, "/")
		return name
	default:
		return item
	}
}
