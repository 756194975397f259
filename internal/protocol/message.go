package protocol

import (
	"errors"
	"fmt"
	"net"

	"github.com/fxamacker/cbor/v2"
)

// MaxDatagramSize bounds encoded messages so they fit one UDP datagram.
const MaxDatagramSize = 65507

// Message is one control datagram.
type Message struct {
	Path   string
	Args   []Arg
	Source *net.UDPAddr
}

type wireMessage struct {
	_    struct{} `cbor:",toarray"`
	Path string
	Args []Arg
}

var decMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		MaxArrayElements: 4096,
		MaxNestedLevels:  8,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// New builds a message for path with args.
func New(path string, args ...Arg) Message {
	return Message{Path: path, Args: args}
}

// Encode serializes the message for the wire. Source is not transmitted.
func Encode(msg Message) ([]byte, error) {
	if msg.Path == "" {
		return nil, errors.New("encode message: empty path")
	}
	data, err := cbor.Marshal(wireMessage{Path: msg.Path, Args: msg.Args})
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", msg.Path, err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("encode message %s: %d bytes exceeds datagram limit", msg.Path, len(data))
	}
	return data, nil
}

// Decode parses a datagram.
func Decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if wire.Path == "" || wire.Path[0] != '/' {
		return Message{}, fmt.Errorf("decode message: invalid path %q", wire.Path)
	}
	return Message{Path: wire.Path, Args: wire.Args}, nil
}

// Reply builds the reply to requestPath carrying items.
func Reply(requestPath string, items ...Arg) Message {
	return New(PathReply, append([]Arg{String(requestPath)}, items...)...)
}

// ReplyStrings is Reply with string items.
func ReplyStrings(requestPath string, items ...string) Message {
	return Reply(requestPath, Strings(items...)...)
}

// ErrorReply builds the fixed three-field error message.
func ErrorReply(requestPath string, code Code, message string) Message {
	return New(PathError, String(requestPath), Int(int64(code)), String(message))
}

// ParseReply splits a /reply message into its echoed path and items.
func ParseReply(msg Message) (string, []Arg, bool) {
	if msg.Path != PathReply || len(msg.Args) == 0 {
		return "", nil, false
	}
	path, ok := msg.Args[0].Str()
	if !ok {
		return "", nil, false
	}
	return path, msg.Args[1:], true
}

// ParseError unpacks a /error message.
func ParseError(msg Message) (path string, code Code, text string, ok bool) {
	if msg.Path != PathError || len(msg.Args) != 3 {
		return "", 0, "", false
	}
	path, okPath := msg.Args[0].Str()
	raw, okCode := msg.Args[1].Int()
	text, okText := msg.Args[2].Str()
	if !okPath || !okCode || !okText {
		return "", 0, "", false
	}
	return path, Code(raw), text, true
}
