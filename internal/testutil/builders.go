package testutil

import (
	"time"

	"flow-triggers/internal/models"
)

// TriggerBuilder helps build test triggers
type TriggerBuilder struct {
	trigger *models.Trigger
}

// NewTriggerBuilder creates an active, unarchived keyword-less trigger of typ
func NewTriggerBuilder(orgID, workflowID int64, typ models.TriggerType) *TriggerBuilder {
	return &TriggerBuilder{
		trigger: &models.Trigger{
			OrgID:      orgID,
			Type:       typ,
			WorkflowID: workflowID,
			IsActive:   true,
			CreatedBy:  "admin",
			ModifiedBy: "admin",
		},
	}
}

func (b *TriggerBuilder) WithKeyword(keyword string) *TriggerBuilder {
	b.trigger.Keyword = keyword
	return b
}

func (b *TriggerBuilder) WithGroups(groups ...*models.ContactGroup) *TriggerBuilder {
	for _, g := range groups {
		b.trigger.Groups = append(b.trigger.Groups, *g)
	}
	return b
}

func (b *TriggerBuilder) WithContacts(contacts ...*models.Contact) *TriggerBuilder {
	for _, c := range contacts {
		b.trigger.Contacts = append(b.trigger.Contacts, *c)
	}
	return b
}

func (b *TriggerBuilder) WithChannel(channelID int64) *TriggerBuilder {
	b.trigger.ChannelID = &channelID
	return b
}

func (b *TriggerBuilder) WithSchedule(scheduleID int64) *TriggerBuilder {
	b.trigger.ScheduleID = &scheduleID
	return b
}

func (b *TriggerBuilder) WithArchived(archived bool) *TriggerBuilder {
	b.trigger.IsArchived = archived
	return b
}

func (b *TriggerBuilder) WithActive(active bool) *TriggerBuilder {
	b.trigger.IsActive = active
	return b
}

func (b *TriggerBuilder) WithLastFired(at time.Time) *TriggerBuilder {
	b.trigger.LastFiredAt = &at
	return b
}

func (b *TriggerBuilder) WithModified(at time.Time) *TriggerBuilder {
	b.trigger.ModifiedAt = at
	return b
}

func (b *TriggerBuilder) Build() *models.Trigger {
	return b.trigger
}
