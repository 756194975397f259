package control

import (
	"fmt"
	"io"
	"sync"

	"raysession/internal/protocol"
)

// Sink receives everything a request prints.
type Sink interface {
	// Item receives one raw listing entry for a list operation.
	Item(path, item string)
	// Message receives a status or error message.
	Message(text string)
}

// WriterSink prints listing names and messages one per line.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Item(path, item string) {
	fmt.Fprintln(s.W, protocol.ItemName(path, item))
}

func (s WriterSink) Message(text string) {
	fmt.Fprintln(s.W, text)
}

// CollectSink keeps raw items and messages in memory.
type CollectSink struct {
	mu       sync.Mutex
	items    []string
	messages []string
}

func (s *CollectSink) Item(_ string, item string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

func (s *CollectSink) Message(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
}

// Items returns the collected listing entries in arrival order.
func (s *CollectSink) Items() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.items...)
}

// Messages returns the collected messages in arrival order.
func (s *CollectSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}
