// Package matcher selects the trigger an inbound event fires.
//
// Selection is a two-phase specificity search: triggers targeting one of the
// contact's groups win over organization-wide triggers without groups,
// regardless of creation order.
package matcher

import (
	"context"
	"sort"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

// Query describes the event being matched
type Query struct {
	OrgID int64
	Type  models.TriggerType
	// Keyword matches case-insensitively when set
	Keyword   string
	ChannelID *int64
	// ContactGroupIDs are the active groups of the event's contact
	ContactGroupIDs []int64
	// ApplyChannel restricts candidates to triggers without a channel or on ChannelID.
	// The keyword path leaves it unset.
	ApplyChannel bool
}

// Matcher resolves queries against a trigger store
type Matcher struct {
	store  storage.TriggerStore
	logger logging.Logger
}

// New creates a matcher reading from store
func New(store storage.TriggerStore, logger logging.Logger) *Matcher {
	return &Matcher{
		store:  store,
		logger: logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "matcher"}),
	}
}

// Match returns the single most specific trigger for q, or nil when nothing matches.
//
// Group-targeted triggers are ordered by the name of their first group the
// contact belongs to, then by ID. Triggers without groups are only
// considered when no group-targeted trigger matched; the lowest ID wins.
func (m *Matcher) Match(ctx context.Context, q Query) (*models.Trigger, error) {
	candidates, err := m.MatchAll(ctx, q)
	if err != nil {
		return nil, err
	}

	if winner := pickGroupSpecific(candidates, q.ContactGroupIDs); winner != nil {
		m.logger.Debug("matched group trigger",
			logging.Field{Key: "trigger_id", Value: winner.ID},
			logging.Field{Key: "org_id", Value: q.OrgID})
		return winner, nil
	}

	for _, t := range candidates {
		if len(t.Groups) == 0 {
			m.logger.Debug("matched fallback trigger",
				logging.Field{Key: "trigger_id", Value: t.ID},
				logging.Field{Key: "org_id", Value: q.OrgID})
			return t, nil
		}
	}

	return nil, nil
}

// MatchAll returns every candidate for q ordered by ID, without specificity ranking
func (m *Matcher) MatchAll(ctx context.Context, q Query) ([]*models.Trigger, error) {
	if !q.Type.Valid() {
		return nil, errors.ValidationError("unknown trigger type " + string(q.Type))
	}

	found, err := m.store.FindTriggers(ctx, storage.TriggerFilter{
		OrgID:             q.OrgID,
		Type:              q.Type,
		Keyword:           q.Keyword,
		Archived:          storage.Bool(false),
		StartableWorkflow: true,
	})
	if err != nil {
		return nil, errors.InternalError("failed to load candidate triggers", err)
	}

	if !q.ApplyChannel || q.ChannelID == nil {
		return found, nil
	}

	candidates := found[:0]
	for _, t := range found {
		if t.OnChannel(*q.ChannelID) {
			candidates = append(candidates, t)
		}
	}
	return candidates, nil
}

type ranked struct {
	trigger *models.Trigger
	group   models.ContactGroup
}

func pickGroupSpecific(candidates []*models.Trigger, contactGroupIDs []int64) *models.Trigger {
	if len(contactGroupIDs) == 0 {
		return nil
	}

	member := make(map[int64]bool, len(contactGroupIDs))
	for _, id := range contactGroupIDs {
		member[id] = true
	}

	var matches []ranked
	for _, t := range candidates {
		// groups arrive sorted by name, then ID
		for _, g := range t.Groups {
			if member[g.ID] {
				matches = append(matches, ranked{trigger: t, group: g})
				break
			}
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.group.Name != b.group.Name {
			return a.group.Name < b.group.Name
		}
		return a.trigger.ID < b.trigger.ID
	})
	return matches[0].trigger
}
