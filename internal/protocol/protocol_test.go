package protocol_test

import (
	"testing"

	"raysession/internal/protocol"
)

func TestResolvePathTaxonomy(t *testing.T) {
	for _, op := range protocol.ServerOperations() {
		path, scope, err := protocol.ResolvePath(op)
		if err != nil || scope != protocol.ScopeServer || path != "/ray/server/"+op {
			t.Fatalf("server op %s resolved to %q %v %v", op, path, scope, err)
		}
	}
	for _, op := range protocol.SessionOperations() {
		path, scope, err := protocol.ResolvePath(op)
		if err != nil || scope != protocol.ScopeSession || path != "/ray/session/"+op {
			t.Fatalf("session op %s resolved to %q %v %v", op, path, scope, err)
		}
	}
	if _, _, err := protocol.ResolvePath("explode"); err == nil {
		t.Fatal("expected error for unknown op")
	}
	if got := len(protocol.ServerOperations()) + len(protocol.SessionOperations()); got != 21 {
		t.Fatalf("expected 21 operations, got %d", got)
	}
}

func TestOperationRejectsCrossScopePaths(t *testing.T) {
	if op, scope := protocol.Operation("/ray/session/list_sessions"); scope != protocol.ScopeUnknown || op != "" {
		t.Fatalf("expected unknown, got %q %v", op, scope)
	}
	if op, scope := protocol.Operation("/ray/session/save"); scope != protocol.ScopeSession || op != "save" {
		t.Fatalf("expected save, got %q %v", op, scope)
	}
}

func TestParseArgTyping(t *testing.T) {
	tests := []struct {
		in   string
		kind protocol.Kind
		want string
	}{
		{"42", protocol.KindInt, "42"},
		{"3.25", protocol.KindFloat, "3.25"},
		{"1.", protocol.KindFloat, "1"},
		{"1.2.3", protocol.KindString, "1.2.3"},
		{"-4", protocol.KindString, "-4"},
		{"", protocol.KindString, ""},
		{".", protocol.KindString, "."},
		{"99999999999999999999", protocol.KindString, "99999999999999999999"},
		{"My Session", protocol.KindString, "My Session"},
	}
	for _, tt := range tests {
		arg := protocol.ParseArg(tt.in)
		if arg.Kind() != tt.kind || arg.String() != tt.want {
			t.Fatalf("ParseArg(%q) = %v %q, want %v %q", tt.in, arg.Kind(), arg.String(), tt.kind, tt.want)
		}
	}
}

func TestStringArgsAreNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	got, _ := protocol.String(decomposed).Str()
	if got != "Caf\u00e9" {
		t.Fatalf("expected NFC form, got %q", got)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	msg := protocol.New("/ray/session/rename", protocol.String("Gig"), protocol.Int(7), protocol.Float(0.5))
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Path != msg.Path || len(got.Args) != 3 {
		t.Fatalf("unexpected message %+v", got)
	}
	if s, ok := got.Args[0].Str(); !ok || s != "Gig" {
		t.Fatalf("arg0 = %v", got.Args[0])
	}
	if i, ok := got.Args[1].Int(); !ok || i != 7 {
		t.Fatalf("arg1 = %v", got.Args[1])
	}
	if f, ok := got.Args[2].Float(); !ok || f != 0.5 {
		t.Fatalf("arg2 = %v", got.Args[2])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := protocol.Decode([]byte("not cbor")); err == nil {
		t.Fatal("expected decode error")
	}
	data, err := protocol.Encode(protocol.New("relative"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := protocol.Decode(data); err == nil {
		t.Fatal("expected path validation error")
	}
}

func TestErrorReplyParse(t *testing.T) {
	msg := protocol.ErrorReply("/ray/session/save", protocol.ErrOperationPending, "session busy")
	path, code, text, ok := protocol.ParseError(msg)
	if !ok || path != "/ray/session/save" || code != protocol.ErrOperationPending || text != "session busy" {
		t.Fatalf("ParseError = %q %d %q %v", path, code, text, ok)
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code protocol.Code
		want int
	}{
		{5, 5},
		{protocol.ErrOperationPending, 5},
		{protocol.ErrGeneric, 1},
		{0, 1},
		{-100, 1},
		{100, 1},
		{-300, 255},
	}
	for _, tt := range tests {
		if got := protocol.ExitCodeFor(tt.code); got != tt.want {
			t.Fatalf("ExitCodeFor(%d) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestItemName(t *testing.T) {
	if got := protocol.ItemName("/ray/server/list_user_client_templates", "jack_mixer/jack_mixer-icon"); got != "jack_mixer" {
		t.Fatalf("template name = %q", got)
	}
	if got := protocol.ItemName("/ray/session/list_snapshots", "2023_6_15_10_30_0:before gig\n"); got != "2023_6_15_10_30_0" {
		t.Fatalf("snapshot name = %q", got)
	}
	if got := protocol.ItemName("/ray/server/list_sessions", "a/b"); got != "a/b" {
		t.Fatalf("session name = %q", got)
	}
}

func TestAnnounceRoundTrip(t *testing.T) {
	in := protocol.Announce{Version: protocol.ProtocolVersion, PID: 123, Port: 16187, SessionRoot: "/home/u/Ray Sessions", IsDefault: true}
	data, err := protocol.Encode(in.Message())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	out, err := protocol.ParseAnnounce(msg)
	if err != nil {
		t.Fatalf("ParseAnnounce: %v", err)
	}
	if out != in {
		t.Fatalf("announce mismatch: %+v vs %+v", out, in)
	}
}
