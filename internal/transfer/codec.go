package transfer

import (
	"context"
	"fmt"
	"strings"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/common/validation"
	"flow-triggers/internal/exclusivity"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

// Config configures a Codec
type Config struct {
	// MinVersion is the oldest document version ImportAll accepts
	MinVersion int
	// Site is written to exported documents so a later import on the same
	// site can match groups by ID
	Site string
}

// Codec converts between triggers and documents
type Codec struct {
	store    storage.Store
	enforcer *exclusivity.Enforcer
	locks    locks.LockManagerInterface
	config   Config
	logger   logging.Logger
}

// New creates a codec
func New(store storage.Store, enforcer *exclusivity.Enforcer, lockManager locks.LockManagerInterface, config Config, logger logging.Logger) *Codec {
	return &Codec{
		store:    store,
		enforcer: enforcer,
		locks:    lockManager,
		config:   config,
		logger:   logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "transfer"}),
	}
}

// Export returns the document form of t
func (c *Codec) Export(ctx context.Context, t *models.Trigger) (TriggerDocument, error) {
	wf, err := c.store.GetWorkflow(ctx, t.OrgID, t.WorkflowID)
	if err != nil {
		if storage.IsNotFound(err) {
			return TriggerDocument{}, errors.NotFoundError(fmt.Sprintf("flow %d", t.WorkflowID))
		}
		return TriggerDocument{}, errors.InternalError("failed to load workflow", err)
	}
	return toDocument(t, wf), nil
}

// ExportAll exports every unarchived trigger of the organization
func (c *Codec) ExportAll(ctx context.Context, orgID int64) (*Document, error) {
	triggers, err := c.store.FindTriggers(ctx, storage.TriggerFilter{OrgID: orgID, Archived: storage.Bool(false)})
	if err != nil {
		return nil, errors.InternalError("failed to load triggers", err)
	}

	doc := &Document{Version: CurrentVersion, Site: c.config.Site, Triggers: make([]TriggerDocument, 0, len(triggers))}
	workflows := make(map[int64]*models.Workflow)
	for _, t := range triggers {
		wf, ok := workflows[t.WorkflowID]
		if !ok {
			wf, err = c.store.GetWorkflow(ctx, orgID, t.WorkflowID)
			if err != nil {
				return nil, errors.InternalError("failed to load workflow", err).WithContext("trigger_id", t.ID)
			}
			workflows[t.WorkflowID] = wf
		}
		doc.Triggers = append(doc.Triggers, toDocument(t, wf))
	}
	return doc, nil
}

func toDocument(t *models.Trigger, wf *models.Workflow) TriggerDocument {
	groups := make([]GroupRef, len(t.Groups))
	for i, g := range t.Groups {
		groups[i] = GroupRef{ID: g.ID, Name: g.Name}
	}
	var channel *int64
	if t.ChannelID != nil {
		v := *t.ChannelID
		channel = &v
	}
	return TriggerDocument{
		TriggerType: t.Type,
		Keyword:     t.Keyword,
		Flow:        FlowRef{ID: wf.ID, Name: wf.Name},
		Groups:      groups,
		Channel:     channel,
	}
}

// ImportAll applies every trigger of doc to the organization. Groups are
// matched by ID when siteOrigin equals the document's site, then by name,
// and created when missing. An existing trigger of the same type, keyword and
// groups is un-archived and repointed; otherwise a new trigger is created.
// Each imported trigger then displaces conflicting triggers in its
// exclusive category.
//
// The import is all or nothing: it runs in one transaction under the
// organization lock and the first failing entry rolls everything back.
func (c *Codec) ImportAll(ctx context.Context, doc *Document, orgID int64, actor, siteOrigin string) error {
	if doc == nil {
		return errors.ValidationError("import document is required")
	}
	if doc.Version < c.config.MinVersion {
		return errors.UnsupportedVersionError(doc.Version, c.config.MinVersion)
	}
	if err := validation.ValidateStruct(doc); err != nil {
		return err
	}

	matchByID := siteOrigin != "" && siteOrigin == doc.Site
	logger := c.logger.WithFields(logging.Field{Key: "org_id", Value: orgID}, logging.Field{Key: "actor", Value: actor})

	err := locks.WithOrgLock(ctx, c.locks, orgID, func(ctx context.Context) error {
		return c.store.WithinTransaction(ctx, func(tx storage.Store) error {
			for i := range doc.Triggers {
				if err := c.importEntry(ctx, tx, orgID, actor, matchByID, &doc.Triggers[i]); err != nil {
					return entryError(i, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		logger.Warn("import aborted", logging.Err(err))
		return err
	}

	logger.Info("imported triggers", logging.Field{Key: "count", Value: len(doc.Triggers)})
	return nil
}

func (c *Codec) importEntry(ctx context.Context, tx storage.Store, orgID int64, actor string, matchByID bool, entry *TriggerDocument) error {
	groups, err := resolveGroups(ctx, tx, orgID, matchByID, entry.Groups)
	if err != nil {
		return err
	}

	wf, err := tx.GetWorkflow(ctx, orgID, entry.Flow.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			return errors.NotFoundError(fmt.Sprintf("flow %d", entry.Flow.ID)).WithContext("flow_id", entry.Flow.ID)
		}
		return errors.InternalError("failed to load workflow", err)
	}

	groupIDs := make([]int64, len(groups))
	for i, g := range groups {
		groupIDs[i] = g.ID
	}

	existing, err := tx.FindTriggers(ctx, storage.TriggerFilter{
		OrgID:    orgID,
		Type:     entry.TriggerType,
		Keyword:  entry.Keyword,
		GroupIDs: groupIDs,
	})
	if err != nil {
		return errors.InternalError("failed to look up existing trigger", err)
	}

	var t *models.Trigger
	if len(existing) > 0 {
		t = existing[0]
		t.IsArchived = false
		t.WorkflowID = wf.ID
		t.ModifiedBy = actor
		if err := tx.UpdateTrigger(ctx, t); err != nil {
			return errors.InternalError("failed to update trigger", err)
		}
	} else {
		t = &models.Trigger{
			OrgID:      orgID,
			Type:       entry.TriggerType,
			Keyword:    strings.ToLower(entry.Keyword),
			WorkflowID: wf.ID,
			ChannelID:  entry.Channel,
			Groups:     groups,
			IsActive:   true,
			CreatedBy:  actor,
			ModifiedBy: actor,
		}
		if err := tx.CreateTrigger(ctx, t); err != nil {
			return errors.InternalError("failed to create trigger", err)
		}
	}

	_, err = c.enforcer.Displace(ctx, tx, t)
	return err
}

func resolveGroups(ctx context.Context, tx storage.Store, orgID int64, matchByID bool, refs []GroupRef) ([]models.ContactGroup, error) {
	groups := make([]models.ContactGroup, 0, len(refs))
	for _, ref := range refs {
		var group *models.ContactGroup
		var err error

		if matchByID {
			group, err = tx.GetGroup(ctx, orgID, ref.ID)
			if err != nil && !storage.IsNotFound(err) {
				return nil, errors.InternalError("failed to load group", err)
			}
		}
		if group == nil {
			group, err = tx.FindGroupByName(ctx, orgID, ref.Name)
			if err != nil && !storage.IsNotFound(err) {
				return nil, errors.InternalError("failed to load group", err)
			}
		}
		if group == nil {
			group = &models.ContactGroup{OrgID: orgID, Name: ref.Name, IsActive: true}
			if err := tx.CreateGroup(ctx, group); err != nil {
				return nil, errors.InternalError("failed to create group", err)
			}
		}
		if !group.IsActive {
			if err := tx.ActivateGroup(ctx, group.ID); err != nil {
				return nil, errors.InternalError("failed to activate group", err)
			}
			group.IsActive = true
		}
		groups = append(groups, *group)
	}
	return groups, nil
}

// entryError tags err with the index of the failing document entry
func entryError(index int, err error) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.WithContext("entry", index)
	}
	return errors.InternalError(fmt.Sprintf("trigger entry %d", index), err).WithContext("entry", index)
}
