package models

import "time"

// ContactGroup is a named set of contacts within an organization
type ContactGroup struct {
	ID       int64  `json:"id"`
	OrgID    int64  `json:"org_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Contact is a person a workflow can be started for
type Contact struct {
	ID    int64  `json:"id"`
	OrgID int64  `json:"org_id"`
	Name  string `json:"name,omitempty"`
	URN   string `json:"urn,omitempty"`
}

// Channel is an inbound transport registered on an organization
type Channel struct {
	ID       int64  `json:"id"`
	OrgID    int64  `json:"org_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Schedule is the recurrence attached to a schedule trigger
type Schedule struct {
	ID       int64  `json:"id"`
	OrgID    int64  `json:"org_id"`
	CronSpec string `json:"cron_spec"`
}

// Workflow is the flow definition a trigger starts
type Workflow struct {
	ID             int64  `json:"id"`
	OrgID          int64  `json:"org_id"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	IsArchived     bool   `json:"is_archived"`
	IgnoreTriggers bool   `json:"ignore_triggers"`
}

// Startable reports whether triggers pointing at the workflow may fire
func (w *Workflow) Startable() bool {
	return w.IsActive && !w.IsArchived
}

// Run is a contact's pass through a workflow
type Run struct {
	ID             int64      `json:"id"`
	ContactID      int64      `json:"contact_id"`
	WorkflowID     int64      `json:"workflow_id"`
	IsActive       bool       `json:"is_active"`
	ExitedAt       *time.Time `json:"exited_at,omitempty"`
	IgnoreTriggers bool       `json:"ignore_triggers"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsCompleted reports whether the run has exited its workflow
func (r *Run) IsCompleted() bool {
	return !r.IsActive || r.ExitedAt != nil
}

// SuppressesTriggers reports whether the run blocks keyword triggers for its contact
func (r *Run) SuppressesTriggers() bool {
	return r.IgnoreTriggers && !r.IsCompleted()
}
