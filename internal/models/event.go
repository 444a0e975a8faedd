package models

import (
	"fmt"
	"time"
)

// InboundEvent is an event that can fire triggers. The set of
// implementations is closed: *Message, *Call and *ManualEnrollment.
type InboundEvent interface {
	Org() int64
	EventContact() *Contact
	// EventKey identifies the event for duplicate-delivery detection. Events
	// without an identity return "" and are never deduplicated.
	EventKey() string
	// StartMessage is the message a started workflow receives, if any
	StartMessage() *Message
	inboundEvent()
}

// Message is an inbound text message
type Message struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Contact   *Contact  `json:"contact"`
	ChannelID *int64    `json:"channel_id,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Org() int64             { return m.OrgID }
func (m *Message) EventContact() *Contact { return m.Contact }
func (m *Message) StartMessage() *Message { return m }
func (m *Message) inboundEvent()          {}

func (m *Message) EventKey() string {
	if m.ID == 0 {
		return ""
	}
	return fmt.Sprintf("msg:%d", m.ID)
}

// CallKind distinguishes telephony events
type CallKind string

const (
	CallKindMissed  CallKind = "missed"
	CallKindInbound CallKind = "inbound"
)

// Call is a telephony event
type Call struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Contact   *Contact  `json:"contact"`
	ChannelID *int64    `json:"channel_id,omitempty"`
	Kind      CallKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Call) Org() int64             { return c.OrgID }
func (c *Call) EventContact() *Contact { return c.Contact }
func (c *Call) StartMessage() *Message { return nil }
func (c *Call) inboundEvent()          {}

func (c *Call) EventKey() string {
	if c.ID == 0 {
		return ""
	}
	return fmt.Sprintf("call:%d", c.ID)
}

// ManualEnrollment is a direct request to enroll a contact, such as a new follower
type ManualEnrollment struct {
	// RequestID identifies the enrollment request; empty requests are never deduplicated
	RequestID string   `json:"request_id"`
	Contact   *Contact `json:"contact"`
}

func (e *ManualEnrollment) Org() int64 {
	if e.Contact == nil {
		return 0
	}
	return e.Contact.OrgID
}
func (e *ManualEnrollment) EventContact() *Contact { return e.Contact }
func (e *ManualEnrollment) EventKey() string {
	if e.RequestID == "" {
		return ""
	}
	return "enroll:" + e.RequestID
}
func (e *ManualEnrollment) StartMessage() *Message { return nil }
func (e *ManualEnrollment) inboundEvent()          {}
