// Package exclusivity keeps at most one active trigger per exclusive
// category in each organization: one per keyword, one missed-call trigger
// and one catch-all trigger.
package exclusivity

import (
	"context"
	"sort"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

// Enforcer archives and restores triggers without breaking exclusivity
type Enforcer struct {
	store  storage.Store
	locks  locks.LockManagerInterface
	logger logging.Logger
}

// New creates an enforcer. Restores take the organization lock from lockManager.
func New(store storage.Store, lockManager locks.LockManagerInterface, logger logging.Logger) *Enforcer {
	return &Enforcer{
		store:  store,
		locks:  lockManager,
		logger: logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "exclusivity"}),
	}
}

// Archive archives every given trigger and returns their IDs
func (e *Enforcer) Archive(ctx context.Context, triggers []*models.Trigger) ([]int64, error) {
	ids := triggerIDs(triggers)
	if len(ids) == 0 {
		return ids, nil
	}
	if err := e.store.SetArchived(ctx, ids, true); err != nil {
		return nil, errors.InternalError("failed to archive triggers", err)
	}

	e.logger.Info("archived triggers", logging.Int64s("trigger_ids", ids))
	return ids, nil
}

// Restore un-archives the given triggers. Keyword triggers archive the other
// active triggers sharing their keyword. Of several missed-call (or
// catch-all) triggers restored together only the most recently fired one is
// restored and every other one of its type is archived. The IDs of every
// given trigger are returned.
//
// Each organization is restored in one transaction under its lock.
func (e *Enforcer) Restore(ctx context.Context, triggers []*models.Trigger) ([]int64, error) {
	byOrg := make(map[int64][]*models.Trigger)
	var orgs []int64
	for _, t := range triggers {
		if _, ok := byOrg[t.OrgID]; !ok {
			orgs = append(orgs, t.OrgID)
		}
		byOrg[t.OrgID] = append(byOrg[t.OrgID], t)
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i] < orgs[j] })

	for _, orgID := range orgs {
		batch := byOrg[orgID]
		err := locks.WithOrgLock(ctx, e.locks, orgID, func(ctx context.Context) error {
			return e.store.WithinTransaction(ctx, func(tx storage.Store) error {
				return e.restoreOrg(ctx, tx, batch)
			})
		})
		if err != nil {
			return nil, err
		}
	}

	return triggerIDs(triggers), nil
}

func (e *Enforcer) restoreOrg(ctx context.Context, tx storage.Store, batch []*models.Trigger) error {
	var missedCall, catchAll, remaining []*models.Trigger
	for _, given := range batch {
		// ordering decisions use the committed state, not the caller's copy
		t, err := tx.GetTrigger(ctx, given.ID)
		if err != nil {
			if storage.IsNotFound(err) {
				return errors.NotFoundError("trigger").WithContext("trigger_id", given.ID)
			}
			return errors.InternalError("failed to load trigger", err)
		}

		switch t.Type {
		case models.TriggerTypeMissedCall:
			missedCall = append(missedCall, t)
		case models.TriggerTypeCatchAll:
			catchAll = append(catchAll, t)
		default:
			remaining = append(remaining, t)
		}
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })
	for _, t := range remaining {
		if err := e.restoreOne(ctx, tx, t); err != nil {
			return err
		}
	}

	for _, group := range [][]*models.Trigger{missedCall, catchAll} {
		if len(group) == 0 {
			continue
		}
		if err := e.restoreOne(ctx, tx, latest(group)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enforcer) restoreOne(ctx context.Context, tx storage.Store, t *models.Trigger) error {
	if _, err := e.Displace(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.SetArchived(ctx, []int64{t.ID}, false); err != nil {
		return errors.InternalError("failed to restore trigger", err).WithContext("trigger_id", t.ID)
	}
	return nil
}

// Displace archives every other active trigger in t's exclusive category,
// leaving t as the only candidate: the same keyword for keyword triggers,
// the same type for missed-call and catch-all triggers. It does nothing for
// other types and returns the archived IDs.
//
// tx must be the store view of the caller's transaction.
func (e *Enforcer) Displace(ctx context.Context, tx storage.Store, t *models.Trigger) ([]int64, error) {
	filter := storage.ArchiveFilter{OrgID: t.OrgID, Type: t.Type, ExceptIDs: []int64{t.ID}}

	switch t.Type {
	case models.TriggerTypeKeyword:
		if t.Keyword == "" {
			return nil, nil
		}
		filter.Keyword = t.Keyword
	case models.TriggerTypeMissedCall, models.TriggerTypeCatchAll:
	default:
		return nil, nil
	}

	archived, err := tx.ArchiveMatching(ctx, filter)
	if err != nil {
		return nil, errors.InternalError("failed to archive conflicting triggers", err).WithContext("trigger_id", t.ID)
	}
	if len(archived) > 0 {
		e.logger.Info("archived conflicting triggers",
			logging.Field{Key: "trigger_id", Value: t.ID},
			logging.Field{Key: "trigger_type", Value: string(t.Type)},
			logging.Int64s("archived_ids", archived))
	}
	return archived, nil
}

func latest(triggers []*models.Trigger) *models.Trigger {
	best := triggers[0]
	for _, t := range triggers[1:] {
		if t.FiredAfter(best) {
			best = t
		}
	}
	return best
}

func triggerIDs(triggers []*models.Trigger) []int64 {
	ids := make([]int64, len(triggers))
	for i, t := range triggers {
		ids[i] = t.ID
	}
	return ids
}
