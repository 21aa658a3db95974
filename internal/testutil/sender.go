package testutil

import (
	"sync"

	"github.com/roach88/auditcore/internal/message"
)

// RecordingSender captures every enqueued message in order.
//
// It satisfies message.Sender. Closing it makes Enqueue return false, which
// mimics a stopped orchestrator.
type RecordingSender struct {
	mu       sync.Mutex
	messages []message.Message
	closed   bool
}

// NewRecordingSender creates an empty recorder.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{}
}

func (s *RecordingSender) Enqueue(m message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.messages = append(s.messages, m)
	return true
}

// Close rejects further messages.
func (s *RecordingSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Messages returns a copy of everything recorded.
func (s *RecordingSender) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.messages...)
}

// Drain returns and forgets everything recorded.
func (s *RecordingSender) Drain() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.messages
	s.messages = nil
	return out
}

// Filter returns the recorded messages of type typ and code.
func (s *RecordingSender) Filter(typ message.Type, code message.Code) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.Message
	for _, m := range s.messages {
		if m.Type() == typ && m.Code() == code {
			out = append(out, m)
		}
	}
	return out
}

// ACKs returns how many ACKs were recorded.
func (s *RecordingSender) ACKs() int {
	return len(s.Filter(message.TypeControl, message.ControlACK))
}

// Data returns the recorded data messages.
func (s *RecordingSender) Data() []message.Message {
	return s.Filter(message.TypeData, message.CodeData)
}
