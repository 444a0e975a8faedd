// Package models defines the persisted records and inbound events the
// trigger engine works with.
package models

import (
	"fmt"
	"strings"
	"time"
)

// TriggerType is the closed set of trigger kinds, encoded as a single character.
type TriggerType string

const (
	TriggerTypeKeyword     TriggerType = "K"
	TriggerTypeSchedule    TriggerType = "S"
	TriggerTypeInboundCall TriggerType = "V"
	TriggerTypeMissedCall  TriggerType = "M"
	TriggerTypeCatchAll    TriggerType = "C"
	TriggerTypeFollow      TriggerType = "F"
)

// MaxKeywordLength is the longest keyword a trigger may carry
const MaxKeywordLength = 16

var triggerTypeNames = map[TriggerType]string{
	TriggerTypeKeyword:     "Keyword Trigger",
	TriggerTypeSchedule:    "Schedule Trigger",
	TriggerTypeInboundCall: "Inbound Call Trigger",
	TriggerTypeMissedCall:  "Missed Call Trigger",
	TriggerTypeCatchAll:    "Catch All Trigger",
	TriggerTypeFollow:      "Follow Account Trigger",
}

// AllTriggerTypes lists every trigger type in display order
func AllTriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerTypeKeyword,
		TriggerTypeSchedule,
		TriggerTypeInboundCall,
		TriggerTypeMissedCall,
		TriggerTypeCatchAll,
		TriggerTypeFollow,
	}
}

// ParseTriggerType converts a single-character code into a TriggerType
func ParseTriggerType(code string) (TriggerType, error) {
	t := TriggerType(code)
	if !t.Valid() {
		return "", fmt.Errorf("unknown trigger type %q", code)
	}
	return t, nil
}

// Valid reports whether t is one of the known trigger types
func (t TriggerType) Valid() bool {
	_, ok := triggerTypeNames[t]
	return ok
}

// DisplayName returns the human readable name of the trigger type
func (t TriggerType) DisplayName() string {
	if name, ok := triggerTypeNames[t]; ok {
		return name
	}
	return "Unknown Trigger"
}

// Exclusive reports whether at most one active trigger of this type may
// exist per organization (per keyword, for keyword triggers).
func (t TriggerType) Exclusive() bool {
	switch t {
	case TriggerTypeKeyword, TriggerTypeMissedCall, TriggerTypeCatchAll:
		return true
	}
	return false
}

// Trigger is a rule mapping an inbound event pattern to a workflow to start.
type Trigger struct {
	ID         int64          `json:"id"`
	OrgID      int64          `json:"org_id"`
	Type       TriggerType    `json:"trigger_type"`
	Keyword    string         `json:"keyword,omitempty"`
	WorkflowID int64          `json:"workflow_id"`
	Groups     []ContactGroup `json:"groups"`
	Contacts   []Contact      `json:"contacts"`
	ChannelID  *int64         `json:"channel_id,omitempty"`
	ScheduleID *int64         `json:"schedule_id,omitempty"`

	IsArchived  bool       `json:"is_archived"`
	IsActive    bool       `json:"is_active"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	FireCount   int        `json:"fire_count"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	CreatedBy  string    `json:"created_by"`
	ModifiedBy string    `json:"modified_by"`
}

// Name returns the keyword for keyword triggers and the type's display name otherwise
func (t *Trigger) Name() string {
	if t.Type == TriggerTypeKeyword {
		return t.Keyword
	}
	return t.Type.DisplayName()
}

// Matchable reports whether the trigger may be selected by the matcher
func (t *Trigger) Matchable() bool {
	return t.IsActive && !t.IsArchived
}

// GroupIDs returns the IDs of the trigger's groups
func (t *Trigger) GroupIDs() []int64 {
	ids := make([]int64, len(t.Groups))
	for i, g := range t.Groups {
		ids[i] = g.ID
	}
	return ids
}

// ContactIDs returns the IDs of the trigger's contacts
func (t *Trigger) ContactIDs() []int64 {
	ids := make([]int64, len(t.Contacts))
	for i, c := range t.Contacts {
		ids[i] = c.ID
	}
	return ids
}

// HasKeyword reports whether the trigger's keyword equals kw, ignoring case
func (t *Trigger) HasKeyword(kw string) bool {
	return t.Keyword != "" && strings.EqualFold(t.Keyword, kw)
}

// OnChannel reports whether the trigger accepts events from channelID.
// A trigger without a channel accepts every channel.
func (t *Trigger) OnChannel(channelID int64) bool {
	return t.ChannelID == nil || *t.ChannelID == channelID
}

// FiredAfter orders triggers by most recent (LastFiredAt, ModifiedAt).
// A trigger that never fired sorts before one that did; remaining ties go
// to the higher ID.
func (t *Trigger) FiredAfter(other *Trigger) bool {
	switch {
	case t.LastFiredAt == nil && other.LastFiredAt != nil:
		return false
	case t.LastFiredAt != nil && other.LastFiredAt == nil:
		return true
	case t.LastFiredAt != nil && !t.LastFiredAt.Equal(*other.LastFiredAt):
		return t.LastFiredAt.After(*other.LastFiredAt)
	}
	if !t.ModifiedAt.Equal(other.ModifiedAt) {
		return t.ModifiedAt.After(other.ModifiedAt)
	}
	return t.ID > other.ID
}

// Clone returns a deep copy of the trigger
func (t *Trigger) Clone() *Trigger {
	c := *t
	c.Groups = append([]ContactGroup(nil), t.Groups...)
	c.Contacts = append([]Contact(nil), t.Contacts...)
	if t.ChannelID != nil {
		v := *t.ChannelID
		c.ChannelID = &v
	}
	if t.ScheduleID != nil {
		v := *t.ScheduleID
		c.ScheduleID = &v
	}
	if t.LastFiredAt != nil {
		v := *t.LastFiredAt
		c.LastFiredAt = &v
	}
	return &c
}
