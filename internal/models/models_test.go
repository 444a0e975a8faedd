package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTriggerType(t *testing.T) {
	for _, tt := range AllTriggerTypes() {
		parsed, err := ParseTriggerType(string(tt))
		require.NoError(t, err)
		assert.Equal(t, tt, parsed)
	}

	_, err := ParseTriggerType("X")
	assert.Error(t, err)
	_, err = ParseTriggerType("")
	assert.Error(t, err)
	_, err = ParseTriggerType("KK")
	assert.Error(t, err)
}

func TestTriggerType_Exclusive(t *testing.T) {
	assert.True(t, TriggerTypeKeyword.Exclusive())
	assert.True(t, TriggerTypeMissedCall.Exclusive())
	assert.True(t, TriggerTypeCatchAll.Exclusive())
	assert.False(t, TriggerTypeSchedule.Exclusive())
	assert.False(t, TriggerTypeInboundCall.Exclusive())
	assert.False(t, TriggerTypeFollow.Exclusive())
}

func TestTrigger_Name(t *testing.T) {
	assert.Equal(t, "join", (&Trigger{Type: TriggerTypeKeyword, Keyword: "join"}).Name())
	assert.Equal(t, "Missed Call Trigger", (&Trigger{Type: TriggerTypeMissedCall}).Name())
	assert.Equal(t, "Follow Account Trigger", (&Trigger{Type: TriggerTypeFollow}).Name())
}

func TestTrigger_Matchable(t *testing.T) {
	assert.True(t, (&Trigger{IsActive: true}).Matchable())
	assert.False(t, (&Trigger{IsActive: true, IsArchived: true}).Matchable())
	assert.False(t, (&Trigger{IsActive: false}).Matchable())
}

func TestTrigger_OnChannel(t *testing.T) {
	channel := int64(5)
	assert.True(t, (&Trigger{}).OnChannel(5))
	assert.True(t, (&Trigger{ChannelID: &channel}).OnChannel(5))
	assert.False(t, (&Trigger{ChannelID: &channel}).OnChannel(6))
}

func TestTrigger_FiredAfter(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	tests := []struct {
		name string
		a, b *Trigger
		want bool
	}{
		{"later fire wins", &Trigger{ID: 1, LastFiredAt: &late}, &Trigger{ID: 2, LastFiredAt: &early}, true},
		{"earlier fire loses", &Trigger{ID: 1, LastFiredAt: &early}, &Trigger{ID: 2, LastFiredAt: &late}, false},
		{"never fired is oldest", &Trigger{ID: 9}, &Trigger{ID: 2, LastFiredAt: &early}, false},
		{"fired beats never fired", &Trigger{ID: 1, LastFiredAt: &early}, &Trigger{ID: 9}, true},
		{"modified breaks fire tie", &Trigger{ID: 1, LastFiredAt: &early, ModifiedAt: late}, &Trigger{ID: 2, LastFiredAt: &early, ModifiedAt: early}, true},
		{"higher id breaks full tie", &Trigger{ID: 3}, &Trigger{ID: 2}, true},
		{"lower id loses full tie", &Trigger{ID: 2}, &Trigger{ID: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.FiredAfter(tt.b))
		})
	}
}

func TestTrigger_Clone(t *testing.T) {
	channel := int64(1)
	now := time.Now()
	original := &Trigger{
		ID:          1,
		Groups:      []ContactGroup{{ID: 1, Name: "a"}},
		ChannelID:   &channel,
		LastFiredAt: &now,
	}

	clone := original.Clone()
	clone.Groups[0].Name = "b"
	*clone.ChannelID = 2

	assert.Equal(t, "a", original.Groups[0].Name)
	assert.Equal(t, int64(1), *original.ChannelID)
	assert.Equal(t, []int64{1}, clone.GroupIDs())
}

func TestRun_SuppressesTriggers(t *testing.T) {
	exited := time.Now()

	assert.True(t, (&Run{IsActive: true, IgnoreTriggers: true}).SuppressesTriggers())
	assert.False(t, (&Run{IsActive: true}).SuppressesTriggers())
	assert.False(t, (&Run{IsActive: false, IgnoreTriggers: true}).SuppressesTriggers())
	assert.False(t, (&Run{IsActive: true, IgnoreTriggers: true, ExitedAt: &exited}).SuppressesTriggers())
}

func TestWorkflow_Startable(t *testing.T) {
	assert.True(t, (&Workflow{IsActive: true}).Startable())
	assert.False(t, (&Workflow{IsActive: true, IsArchived: true}).Startable())
	assert.False(t, (&Workflow{}).Startable())
}

func TestInboundEvents(t *testing.T) {
	contact := &Contact{ID: 4, OrgID: 2}

	msg := &Message{ID: 10, OrgID: 2, Contact: contact, Text: "hi"}
	call := &Call{ID: 11, OrgID: 2, Contact: contact, Kind: CallKindMissed}
	enroll := &ManualEnrollment{RequestID: "abc", Contact: contact}

	events := []InboundEvent{msg, call, enroll}
	for _, e := range events {
		assert.Equal(t, int64(2), e.Org())
		assert.Equal(t, contact, e.EventContact())
	}

	assert.Equal(t, "msg:10", msg.EventKey())
	assert.Equal(t, "call:11", call.EventKey())
	assert.Equal(t, "enroll:abc", enroll.EventKey())
	assert.Equal(t, "", (&ManualEnrollment{Contact: contact}).EventKey())
	assert.Equal(t, "", (&Message{Contact: contact, Text: "join"}).EventKey())
	assert.Equal(t, "", (&Call{Contact: contact}).EventKey())

	assert.Same(t, msg, msg.StartMessage())
	assert.Nil(t, call.StartMessage())
	assert.Nil(t, enroll.StartMessage())
	assert.Equal(t, int64(0), (&ManualEnrollment{}).Org())
}
