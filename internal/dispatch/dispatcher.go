// Package dispatch fires triggers for inbound events: it picks the trigger,
// stamps its firing statistics and asks the workflow engine to start the
// trigger's workflow.
//
// Keyword messages fire at most one trigger. Catch-style events (calls,
// enrollments, catch-all messages) fire every matching trigger of the
// requested type.
//
// Statistics are stamped with one conditional store update per trigger; the
// workflow start always happens afterwards, outside any transaction. A start
// failure never undoes the statistics but releases the trigger's delivery
// claim, so a redelivered event starts the workflow again.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/dedup"
	"flow-triggers/internal/keyword"
	"flow-triggers/internal/matcher"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
	"flow-triggers/internal/workflow"
)

// FireResult is the outcome of an administrative fire
type FireResult string

const (
	FireResultFired        FireResult = "fired"
	FireResultInactive     FireResult = "inactive"
	FireResultNoChannel    FireResult = "no_channel"
	FireResultNoRecipients FireResult = "no_recipients"
)

// Fired reports whether the workflow was started
func (r FireResult) Fired() bool {
	return r == FireResultFired
}

// maxConcurrentStarts bounds the fan-out of catch triggers
const maxConcurrentStarts = 8

// Dispatcher fires triggers
type Dispatcher struct {
	store   storage.Store
	matcher *matcher.Matcher
	engine  workflow.Engine
	guard   dedup.Guard
	now     func() time.Time
	logger  logging.Logger
}

// New creates a dispatcher. A nil guard disables duplicate-delivery detection.
func New(store storage.Store, m *matcher.Matcher, engine workflow.Engine, guard dedup.Guard, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		matcher: m,
		engine:  engine,
		guard:   guard,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "dispatcher"}),
	}
}

// SetClock replaces the clock used for firing statistics
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// DispatchInbound fires the keyword trigger matching msg, if any, and reports
// whether one fired.
func (d *Dispatcher) DispatchInbound(ctx context.Context, msg *models.Message) (bool, error) {
	if msg == nil || msg.Contact == nil {
		return false, errors.InvalidEntityError(msg)
	}
	logger := d.logger.WithFields(
		logging.Field{Key: "org_id", Value: msg.OrgID},
		logging.Field{Key: "message_id", Value: msg.ID},
	)

	kw, ok := keyword.Resolve(msg.Text)
	if !ok {
		logger.Debug("message has no keyword")
		return false, nil
	}

	// a run that ignores triggers wins over any match
	run, err := d.store.ActiveRunFor(ctx, msg.Contact.ID)
	if err != nil {
		return false, errors.InternalError("failed to load active run", err)
	}
	if run != nil && run.SuppressesTriggers() {
		logger.Debug("contact is in a run that ignores triggers", logging.Field{Key: "run_id", Value: run.ID})
		return false, nil
	}

	groups, err := d.store.GroupIDsForContact(ctx, msg.Contact.ID)
	if err != nil {
		return false, errors.InternalError("failed to load contact groups", err)
	}

	trigger, err := d.matcher.Match(ctx, matcher.Query{
		OrgID:           msg.OrgID,
		Type:            models.TriggerTypeKeyword,
		Keyword:         kw,
		ContactGroupIDs: groups,
	})
	if err != nil {
		return false, err
	}
	if trigger == nil {
		logger.Debug("no trigger for keyword", logging.Field{Key: "keyword", Value: kw})
		return false, nil
	}

	fired, err := d.stamp(ctx, trigger, msg.EventKey())
	if err != nil || fired == nil {
		return false, err
	}

	return true, d.start(ctx, fired, msg.EventKey(), nil, []int64{msg.Contact.ID}, msg)
}

// CatchTriggers fires every active trigger of typ for event, scoped to
// triggers without a channel or on channelID when one is given. It reports
// whether any trigger fired.
func (d *Dispatcher) CatchTriggers(ctx context.Context, event models.InboundEvent, typ models.TriggerType, channelID *int64) (bool, error) {
	if !validEvent(event) {
		return false, errors.InvalidEntityError(event)
	}
	contact := event.EventContact()

	candidates, err := d.matcher.MatchAll(ctx, matcher.Query{
		OrgID:        event.Org(),
		Type:         typ,
		ChannelID:    channelID,
		ApplyChannel: channelID != nil,
	})
	if err != nil {
		return false, err
	}

	// triggers stamped before a failing stamp still start; their claims keep
	// a redelivery from starting them twice
	var (
		fired    []*models.Trigger
		stampErr error
	)
	for _, t := range candidates {
		stamped, err := d.stamp(ctx, t, event.EventKey())
		if err != nil {
			stampErr = err
			break
		}
		if stamped != nil {
			fired = append(fired, stamped)
		}
	}
	if len(fired) == 0 {
		if stampErr != nil {
			return false, stampErr
		}
		d.logger.Debug("no catch trigger fired",
			logging.Field{Key: "org_id", Value: event.Org()},
			logging.Field{Key: "trigger_type", Value: string(typ)})
		return false, nil
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentStarts)
	for _, t := range fired {
		t := t
		g.Go(func() error {
			return d.start(ctx, t, event.EventKey(), nil, []int64{contact.ID}, event.StartMessage())
		})
	}
	startErr := g.Wait()
	if stampErr != nil {
		return true, stampErr
	}
	return true, startErr
}

// FindWorkflowForInboundCall returns the workflow of the inbound-call trigger
// matching contact and stamps that trigger's statistics. The caller starts
// the workflow itself. It returns nil when no trigger matches.
func (d *Dispatcher) FindWorkflowForInboundCall(ctx context.Context, contact *models.Contact) (*models.Workflow, error) {
	if contact == nil {
		return nil, errors.InvalidEntityError(contact)
	}

	groups, err := d.store.GroupIDsForContact(ctx, contact.ID)
	if err != nil {
		return nil, errors.InternalError("failed to load contact groups", err)
	}

	trigger, err := d.matcher.Match(ctx, matcher.Query{
		OrgID:           contact.OrgID,
		Type:            models.TriggerTypeInboundCall,
		ContactGroupIDs: groups,
	})
	if err != nil || trigger == nil {
		return nil, err
	}

	fired, err := d.stamp(ctx, trigger, "")
	if err != nil || fired == nil {
		return nil, err
	}

	wf, err := d.store.GetWorkflow(ctx, fired.OrgID, fired.WorkflowID)
	if err != nil {
		return nil, storageError(err, fmt.Sprintf("workflow %d", fired.WorkflowID))
	}
	return wf, nil
}

// Fire starts the trigger's workflow for the union of its groups and
// contacts. Triggers that cannot fire are reported through the result, not
// as errors.
func (d *Dispatcher) Fire(ctx context.Context, triggerID int64) (FireResult, error) {
	trigger, err := d.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return "", storageError(err, fmt.Sprintf("trigger %d", triggerID))
	}
	logger := d.logger.WithFields(logging.Field{Key: "trigger_id", Value: trigger.ID})

	if !trigger.Matchable() {
		logger.Debug("trigger is not active")
		return FireResultInactive, nil
	}

	hasChannel, err := d.store.HasActiveChannel(ctx, trigger.OrgID)
	if err != nil {
		return "", errors.InternalError("failed to check channels", err)
	}
	if !hasChannel {
		logger.Debug("organization has no active channel", logging.Field{Key: "org_id", Value: trigger.OrgID})
		return FireResultNoChannel, nil
	}
	if len(trigger.Groups) == 0 && len(trigger.Contacts) == 0 {
		logger.Debug("trigger has no groups or contacts")
		return FireResultNoRecipients, nil
	}

	fired, err := d.stamp(ctx, trigger, "")
	if err != nil {
		return "", err
	}
	if fired == nil {
		return FireResultInactive, nil
	}

	if err := d.start(ctx, fired, "", fired.GroupIDs(), fired.ContactIDs(), nil); err != nil {
		return FireResultFired, err
	}
	return FireResultFired, nil
}

// stamp claims the (trigger, event) pair and records the fire. It returns
// nil without error when the event was already handled for the trigger or
// the trigger stopped being active.
func (d *Dispatcher) stamp(ctx context.Context, t *models.Trigger, eventKey string) (*models.Trigger, error) {
	logger := d.logger.WithContext(ctx).WithFields(logging.Field{Key: "trigger_id", Value: t.ID})

	claim := d.claimKey(t, eventKey)
	if claim != "" {
		ok, err := d.guard.Claim(ctx, claim)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug("duplicate event delivery", logging.Field{Key: "event", Value: eventKey})
			return nil, nil
		}
	}

	fired, ok, err := d.store.RecordFire(ctx, t.ID, d.now())
	if err != nil || !ok {
		d.release(ctx, claim)
		if err != nil {
			return nil, errors.InternalError("failed to record trigger fire", err).WithContext("trigger_id", t.ID)
		}
		logger.Debug("trigger deactivated before firing")
		return nil, nil
	}
	return fired, nil
}

func (d *Dispatcher) claimKey(t *models.Trigger, eventKey string) string {
	if d.guard == nil || eventKey == "" {
		return ""
	}
	return dedup.FireKey(t.ID, eventKey)
}

func (d *Dispatcher) release(ctx context.Context, claim string) {
	if claim == "" {
		return
	}
	if err := d.guard.Release(ctx, claim); err != nil {
		d.logger.Warn("failed to release fire claim", logging.Err(err), logging.Field{Key: "key", Value: claim})
	}
}

func (d *Dispatcher) start(ctx context.Context, t *models.Trigger, eventKey string, groups, contacts []int64, msg *models.Message) error {
	err := d.engine.Start(ctx, workflow.StartRequest{
		OrgID:               t.OrgID,
		WorkflowID:          t.WorkflowID,
		TriggerID:           t.ID,
		GroupIDs:            groups,
		ContactIDs:          contacts,
		Message:             msg,
		RestartParticipants: true,
	})
	logger := d.logger.WithContext(ctx)
	if err != nil {
		logger.Error("failed to start workflow", err,
			logging.Field{Key: "trigger_id", Value: t.ID},
			logging.Field{Key: "workflow_id", Value: t.WorkflowID})
		d.release(ctx, d.claimKey(t, eventKey))
		return fmt.Errorf("start workflow %d for trigger %d: %w", t.WorkflowID, t.ID, err)
	}

	logger.Info("trigger fired",
		logging.Field{Key: "trigger_id", Value: t.ID},
		logging.Field{Key: "workflow_id", Value: t.WorkflowID},
		logging.Field{Key: "fire_count", Value: t.FireCount})
	return nil
}

func validEvent(event models.InboundEvent) bool {
	switch e := event.(type) {
	case *models.Message:
		return e != nil && e.Contact != nil
	case *models.Call:
		return e != nil && e.Contact != nil
	case *models.ManualEnrollment:
		return e != nil && e.Contact != nil
	}
	return false
}

func storageError(err error, resource string) error {
	if storage.IsNotFound(err) {
		return errors.NotFoundError(resource)
	}
	return errors.InternalError("failed to load "+resource, err)
}
