package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is the immutable envelope routed through the orchestrator.
//
// The zero value is not meaningful; use the New* constructors. Fields are
// unexported so a message cannot be modified after construction; the only
// derived copy is the one the queue stamps with a sequence number.
type Message struct {
	id        string
	typ       Type
	code      Code
	payload   any
	auditName string
	priority  Priority
	seq       int64
}

// New builds a message of any type.
// An empty auditName means the message is not targeted at an audit.
func New(typ Type, code Code, payload any, auditName string, priority Priority) Message {
	return Message{
		id:        uuid.Must(uuid.NewV7()).String(),
		typ:       typ,
		code:      code,
		payload:   payload,
		auditName: auditName,
		priority:  priority,
	}
}

// NewData wraps a data object for the given audit at medium priority.
func NewData(auditName string, payload any) Message {
	return New(TypeData, CodeData, payload, auditName, PriorityMedium)
}

// NewControl builds a control message.
func NewControl(code Code, auditName string, payload any, priority Priority) Message {
	return New(TypeControl, code, payload, auditName, priority)
}

// NewACK builds the low-priority acknowledgment for an audit.
func NewACK(auditName string) Message {
	return New(TypeControl, ControlACK, nil, auditName, PriorityLow)
}

// NewRPC builds an RPC message. The payload is the call descriptor.
func NewRPC(code Code, auditName string, call any) Message {
	return New(TypeRPC, code, call, auditName, PriorityHigh)
}

func (m Message) ID() string         { return m.id }
func (m Message) Type() Type         { return m.typ }
func (m Message) Code() Code         { return m.code }
func (m Message) Payload() any       { return m.payload }
func (m Message) AuditName() string  { return m.auditName }
func (m Message) Priority() Priority { return m.priority }

// Seq is the logical enqueue order assigned by the queue; zero if never queued.
func (m Message) Seq() int64 { return m.seq }

// IsControl reports whether m is a control message with the given code.
func (m Message) IsControl(code Code) bool {
	return m.typ == TypeControl && m.code == code
}

// IsACK reports whether m is an acknowledgment.
func (m Message) IsACK() bool {
	return m.IsControl(ControlACK)
}

func (m Message) withSeq(seq int64) Message {
	m.seq = seq
	return m
}

func (m Message) String() string {
	if m.auditName == "" {
		return fmt.Sprintf("%s/%s", m.typ, CodeName(m.typ, m.code))
	}
	return fmt.Sprintf("%s/%s audit=%s", m.typ, CodeName(m.typ, m.code), m.auditName)
}

// wireMessage is the JSON shape of a message.
type wireMessage struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Code      Code            `json:"code"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	AuditName string          `json:"audit_name,omitempty"`
	Priority  Priority        `json:"priority"`
	Seq       int64           `json:"seq,omitempty"`
}

// MarshalJSON encodes the message with its payload encoded by encoding/json.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.id,
		Type:      m.typ,
		Code:      m.code,
		AuditName: m.auditName,
		Priority:  m.priority,
		Seq:       m.seq,
	}
	if m.payload != nil {
		raw, err := json.Marshal(m.payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", m, err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a message. The payload is left as json.RawMessage;
// the receiver decides its concrete type from Type and Code.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	*m = Message{
		id:        w.ID,
		typ:       w.Type,
		code:      w.Code,
		auditName: w.AuditName,
		priority:  w.Priority,
		seq:       w.Seq,
	}
	if len(w.Payload) > 0 {
		m.payload = w.Payload
	}
	return nil
}
