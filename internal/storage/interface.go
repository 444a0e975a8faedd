// Package storage defines the persistence contract of the trigger engine and
// a registry of backends that implement it.
//
// Backends register a StorageFactory under a type name ("sqlite", "postgres",
// "memory") from their init functions; NewStorage picks one from the
// application configuration.
//
// Every query excludes inactive (soft-deleted) triggers except GetTrigger,
// which loads a trigger by primary key regardless of state.
package storage

import (
	"context"
	"errors"
	"time"

	"flow-triggers/internal/models"
)

// ErrNotFound is returned when a record addressed by key does not exist
var ErrNotFound = errors.New("storage: record not found")

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// TriggerFilter selects active triggers. Zero values do not filter.
type TriggerFilter struct {
	OrgID int64
	Type  models.TriggerType
	// Keyword matches case-insensitively
	Keyword string
	IDs     []int64
	// Archived filters on the archived flag when set
	Archived *bool
	// StartableWorkflow keeps only triggers whose workflow is active and not archived
	StartableWorkflow bool
	// GroupIDs keeps triggers sharing at least one group with the list
	GroupIDs []int64
	// NoGroups keeps only triggers without groups
	NoGroups bool
}

// ArchiveFilter selects the active, non-archived triggers of one exclusive
// category within an organization.
type ArchiveFilter struct {
	OrgID int64
	Type  models.TriggerType
	// Keyword matches case-insensitively; required for keyword triggers
	Keyword   string
	ExceptIDs []int64
}

// Bool returns a pointer to b, for filter fields
func Bool(b bool) *bool {
	return &b
}

// TriggerStore persists triggers and their group and contact links.
type TriggerStore interface {
	// CreateTrigger inserts t with its group and contact links, assigning t.ID
	CreateTrigger(ctx context.Context, t *models.Trigger) error
	GetTrigger(ctx context.Context, id int64) (*models.Trigger, error)
	// FindTriggers returns matching triggers ordered by ID with groups and contacts loaded
	FindTriggers(ctx context.Context, filter TriggerFilter) ([]*models.Trigger, error)
	// UpdateTrigger saves keyword, workflow, channel, schedule, flags and modification stamp
	UpdateTrigger(ctx context.Context, t *models.Trigger) error
	SetArchived(ctx context.Context, ids []int64, archived bool) error
	// ArchiveMatching archives every trigger selected by filter and returns their IDs
	ArchiveMatching(ctx context.Context, filter ArchiveFilter) ([]int64, error)
	// RecordFire increments the fire count and stamps the last fire time in one
	// conditional update. It reports false, without error, when the trigger is
	// no longer active and unarchived.
	RecordFire(ctx context.Context, id int64, at time.Time) (*models.Trigger, bool, error)
	AddTriggerGroups(ctx context.Context, triggerID int64, groupIDs []int64) error
	AddTriggerContacts(ctx context.Context, triggerID int64, contactIDs []int64) error
}

// GroupStore persists contact groups, contacts and membership.
type GroupStore interface {
	GetGroup(ctx context.Context, orgID, id int64) (*models.ContactGroup, error)
	FindGroupByName(ctx context.Context, orgID int64, name string) (*models.ContactGroup, error)
	CreateGroup(ctx context.Context, g *models.ContactGroup) error
	ActivateGroup(ctx context.Context, id int64) error
	AddContactToGroup(ctx context.Context, contactID, groupID int64) error
	// GroupIDsForContact returns the IDs of the active groups the contact belongs to
	GroupIDsForContact(ctx context.Context, contactID int64) ([]int64, error)
	CreateContact(ctx context.Context, c *models.Contact) error
}

// WorkflowStore persists workflows.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, orgID, id int64) (*models.Workflow, error)
	CreateWorkflow(ctx context.Context, w *models.Workflow) error
}

// RunStore persists workflow runs.
type RunStore interface {
	// ActiveRunFor returns the contact's most recent active run in a startable
	// workflow, or nil when there is none. IgnoreTriggers reflects the workflow.
	ActiveRunFor(ctx context.Context, contactID int64) (*models.Run, error)
	CreateRun(ctx context.Context, r *models.Run) error
}

// ChannelStore persists channels and schedules.
type ChannelStore interface {
	HasActiveChannel(ctx context.Context, orgID int64) (bool, error)
	CreateChannel(ctx context.Context, ch *models.Channel) error
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	CreateSchedule(ctx context.Context, s *models.Schedule) error
}

// Store is the full persistence contract.
type Store interface {
	TriggerStore
	GroupStore
	WorkflowStore
	RunStore
	ChannelStore

	// WithinTransaction runs fn against a transactional view of the store.
	// The transaction commits when fn returns nil and rolls back otherwise.
	// Calling WithinTransaction on the view passed to fn reuses the same transaction.
	WithinTransaction(ctx context.Context, fn func(tx Store) error) error
	Health(ctx context.Context) error
	Close() error
}

// StorageConfig describes a backend connection.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory creates a Store for one backend type.
type StorageFactory interface {
	Create(config StorageConfig) (Store, error)
	GetType() string
}

// GenericConfig is a simple map-based implementation of StorageConfig
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil // backends validate their typed config
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	if cs, ok := gc["connection_string"].(string); ok {
		return cs
	}
	return ""
}

// String returns the string value of key, or "" when absent
func (gc GenericConfig) String(key string) string {
	if v, ok := gc[key].(string); ok {
		return v
	}
	return ""
}
