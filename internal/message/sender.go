package message

// Sender accepts messages bound for the orchestrator queue.
// Enqueue reports false when the queue no longer accepts messages.
type Sender interface {
	Enqueue(m Message) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(m Message) bool

func (f SenderFunc) Enqueue(m Message) bool { return f(m) }
