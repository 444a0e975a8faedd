package triggers

import (
	"context"
	"fmt"
	"strings"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/common/validation"
	"flow-triggers/internal/dedup"
	"flow-triggers/internal/dispatch"
	"flow-triggers/internal/exclusivity"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/matcher"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
	"flow-triggers/internal/transfer"
	"flow-triggers/internal/workflow"
)

// ManagerConfig contains configuration for the trigger manager
type ManagerConfig struct {
	MinImportVersion int    // Oldest import document version accepted
	SiteOrigin       string // This deployment's site, for id-based group matching on import
}

// Manager manages triggers and fires them for inbound events
type Manager struct {
	store      storage.Store
	matcher    *matcher.Matcher
	dispatcher *dispatch.Dispatcher
	enforcer   *exclusivity.Enforcer
	codec      *transfer.Codec
	config     ManagerConfig
	logger     logging.Logger
}

// CreateRequest describes a new trigger
type CreateRequest struct {
	OrgID      int64              `json:"org_id" validate:"gt=0"`
	Type       models.TriggerType `json:"trigger_type" validate:"required,trigger_type"`
	Keyword    string             `json:"keyword" validate:"required_if=Type K,excluded_unless=Type K,keyword"`
	WorkflowID int64              `json:"workflow_id" validate:"gt=0"`
	GroupIDs   []int64            `json:"group_ids"`
	ContactIDs []int64            `json:"contact_ids"`
	ChannelID  *int64             `json:"channel_id"`
	ScheduleID *int64             `json:"schedule_id" validate:"required_if=Type S"`
	Actor      string             `json:"actor"`
}

// NewManager wires a manager over one store. A nil guard disables
// duplicate-delivery detection.
func NewManager(store storage.Store, engine workflow.Engine, lockManager locks.LockManagerInterface, guard dedup.Guard, config *ManagerConfig, logger logging.Logger) *Manager {
	if config == nil {
		config = &ManagerConfig{MinImportVersion: 3}
	}
	logger = logging.OrGlobal(logger)

	m := matcher.New(store, logger)
	enforcer := exclusivity.New(store, lockManager, logger)

	return &Manager{
		store:      store,
		matcher:    m,
		dispatcher: dispatch.New(store, m, engine, guard, logger),
		enforcer:   enforcer,
		codec: transfer.New(store, enforcer, lockManager, transfer.Config{
			MinVersion: config.MinImportVersion,
			Site:       config.SiteOrigin,
		}, logger),
		config: *config,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "trigger_manager"}),
	}
}

// Dispatcher returns the dispatcher, for callers that need its clock or result types
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.dispatcher
}

// Create validates req and stores a new active trigger.
//
// Creation does not archive other triggers sharing the keyword or the
// exclusive type; only Restore and Import do.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Trigger, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}

	trigger := &models.Trigger{
		OrgID:      req.OrgID,
		Type:       req.Type,
		Keyword:    strings.ToLower(req.Keyword),
		WorkflowID: req.WorkflowID,
		ChannelID:  req.ChannelID,
		ScheduleID: req.ScheduleID,
		IsActive:   true,
		CreatedBy:  req.Actor,
		ModifiedBy: req.Actor,
	}

	err := m.store.WithinTransaction(ctx, func(tx storage.Store) error {
		if _, err := tx.GetWorkflow(ctx, req.OrgID, req.WorkflowID); err != nil {
			return lookupError(err, fmt.Sprintf("workflow %d", req.WorkflowID))
		}

		if req.ScheduleID != nil {
			schedule, err := tx.GetSchedule(ctx, *req.ScheduleID)
			if err != nil {
				return lookupError(err, fmt.Sprintf("schedule %d", *req.ScheduleID))
			}
			if schedule.OrgID != req.OrgID {
				return errors.NotFoundError(fmt.Sprintf("schedule %d", *req.ScheduleID))
			}
			if err := validation.ValidateVar(schedule.CronSpec, "required,cron_expression"); err != nil {
				return errors.ValidationError(fmt.Sprintf("schedule %d has an invalid cron spec", schedule.ID)).WithCause(err)
			}
		}

		for _, id := range req.GroupIDs {
			group, err := tx.GetGroup(ctx, req.OrgID, id)
			if err != nil {
				return lookupError(err, fmt.Sprintf("group %d", id))
			}
			trigger.Groups = append(trigger.Groups, *group)
		}
		for _, id := range req.ContactIDs {
			trigger.Contacts = append(trigger.Contacts, models.Contact{ID: id, OrgID: req.OrgID})
		}

		return tx.CreateTrigger(ctx, trigger)
	})
	if err != nil {
		if _, ok := errors.AsAppError(err); ok {
			return nil, err
		}
		return nil, errors.InternalError("failed to create trigger", err)
	}

	m.logger.Info("trigger created",
		logging.Field{Key: "trigger_id", Value: trigger.ID},
		logging.Field{Key: "org_id", Value: trigger.OrgID},
		logging.Field{Key: "trigger_type", Value: string(trigger.Type)})
	return trigger, nil
}

// Get returns a trigger by ID, whatever its state
func (m *Manager) Get(ctx context.Context, id int64) (*models.Trigger, error) {
	t, err := m.store.GetTrigger(ctx, id)
	if err != nil {
		return nil, lookupError(err, fmt.Sprintf("trigger %d", id))
	}
	return t, nil
}

// List returns the organization's active triggers, optionally narrowed by
// type and archived state
func (m *Manager) List(ctx context.Context, orgID int64, typ models.TriggerType, archived *bool) ([]*models.Trigger, error) {
	triggers, err := m.store.FindTriggers(ctx, storage.TriggerFilter{OrgID: orgID, Type: typ, Archived: archived})
	if err != nil {
		return nil, errors.InternalError("failed to list triggers", err)
	}
	return triggers, nil
}

// Archive archives the given triggers and returns their IDs
func (m *Manager) Archive(ctx context.Context, ids []int64) ([]int64, error) {
	triggers, err := m.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return m.enforcer.Archive(ctx, triggers)
}

// Restore restores the given triggers, archiving whatever they conflict with,
// and returns their IDs
func (m *Manager) Restore(ctx context.Context, ids []int64) ([]int64, error) {
	triggers, err := m.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return m.enforcer.Restore(ctx, triggers)
}

// Import applies an export document to the organization, all or nothing
func (m *Manager) Import(ctx context.Context, doc *transfer.Document, orgID int64, actor string) error {
	return m.codec.ImportAll(ctx, doc, orgID, actor, m.config.SiteOrigin)
}

// Export returns the document of every unarchived trigger in the organization
func (m *Manager) Export(ctx context.Context, orgID int64) (*transfer.Document, error) {
	return m.codec.ExportAll(ctx, orgID)
}

// ExportTrigger returns the document form of one trigger
func (m *Manager) ExportTrigger(ctx context.Context, id int64) (transfer.TriggerDocument, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return transfer.TriggerDocument{}, err
	}
	return m.codec.Export(ctx, t)
}

// DispatchInbound fires the keyword trigger matching msg
func (m *Manager) DispatchInbound(ctx context.Context, msg *models.Message) (bool, error) {
	return m.dispatcher.DispatchInbound(ctx, msg)
}

// CatchTriggers fires every trigger of typ for event
func (m *Manager) CatchTriggers(ctx context.Context, event models.InboundEvent, typ models.TriggerType, channelID *int64) (bool, error) {
	return m.dispatcher.CatchTriggers(ctx, event, typ, channelID)
}

// FindWorkflowForInboundCall returns the workflow answering the contact's call
func (m *Manager) FindWorkflowForInboundCall(ctx context.Context, contact *models.Contact) (*models.Workflow, error) {
	return m.dispatcher.FindWorkflowForInboundCall(ctx, contact)
}

// Fire starts the trigger's workflow for its groups and contacts
func (m *Manager) Fire(ctx context.Context, triggerID int64) (dispatch.FireResult, error) {
	return m.dispatcher.Fire(ctx, triggerID)
}

func (m *Manager) load(ctx context.Context, ids []int64) ([]*models.Trigger, error) {
	triggers := make([]*models.Trigger, 0, len(ids))
	for _, id := range ids {
		t, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

func lookupError(err error, resource string) error {
	if storage.IsNotFound(err) {
		return errors.NotFoundError(resource)
	}
	return errors.InternalError("failed to load "+resource, err)
}
