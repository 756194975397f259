package protocol

import (
	"fmt"
)

// ProtocolVersion is carried in announce messages.
const ProtocolVersion = "1.0"

// Announce is the one-shot startup message a daemon sends to the control
// address it was given.
type Announce struct {
	Version     string
	PID         int
	Port        int
	SessionRoot string
	IsDefault   bool
}

// Message encodes the announce payload (version, pid, port, root, default).
func (a Announce) Message() Message {
	def := int64(0)
	if a.IsDefault {
		def = 1
	}
	return New(PathAnnounce,
		String(a.Version),
		Int(int64(a.PID)),
		Int(int64(a.Port)),
		String(a.SessionRoot),
		Int(def),
	)
}

// ParseAnnounce decodes an announce message.
func ParseAnnounce(msg Message) (Announce, error) {
	if msg.Path != PathAnnounce {
		return Announce{}, fmt.Errorf("parse announce: unexpected path %s", msg.Path)
	}
	if len(msg.Args) != 5 {
		return Announce{}, fmt.Errorf("parse announce: expected 5 args, got %d", len(msg.Args))
	}
	version, ok1 := msg.Args[0].Str()
	pid, ok2 := msg.Args[1].Int()
	port, ok3 := msg.Args[2].Int()
	root, ok4 := msg.Args[3].Str()
	def, ok5 := msg.Args[4].Int()
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Announce{}, fmt.Errorf("parse announce: unexpected argument types")
	}
	return Announce{
		Version:     version,
		PID:         int(pid),
		Port:        int(port),
		SessionRoot: root,
		IsDefault:   def != 0,
	}, nil
}
