package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

// GetGroup implements storage.GroupStore
func (s *Store) GetGroup(ctx context.Context, orgID, id int64) (*models.ContactGroup, error) {
	var g models.ContactGroup
	err := s.queryRow(ctx, `SELECT id, org_id, name, is_active FROM contact_groups WHERE id = ? AND org_id = ?`,
		id, orgID).Scan(&g.ID, &g.OrgID, &g.Name, &g.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %d: %w", id, err)
	}
	return &g, nil
}

// FindGroupByName implements storage.GroupStore
func (s *Store) FindGroupByName(ctx context.Context, orgID int64, name string) (*models.ContactGroup, error) {
	var g models.ContactGroup
	err := s.queryRow(ctx, `SELECT id, org_id, name, is_active FROM contact_groups
		WHERE org_id = ? AND name = ? ORDER BY id LIMIT 1`,
		orgID, name).Scan(&g.ID, &g.OrgID, &g.Name, &g.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group %q: %w", name, err)
	}
	return &g, nil
}

// CreateGroup implements storage.GroupStore
func (s *Store) CreateGroup(ctx context.Context, g *models.ContactGroup) error {
	id, err := s.insert(ctx, `INSERT INTO contact_groups (org_id, name, is_active) VALUES (?, ?, ?)`,
		g.OrgID, g.Name, g.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create group %q: %w", g.Name, err)
	}
	g.ID = id
	return nil
}

// ActivateGroup implements storage.GroupStore
func (s *Store) ActivateGroup(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `UPDATE contact_groups SET is_active = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("failed to activate group %d: %w", id, err)
	}
	return expectRow(res)
}

// AddContactToGroup implements storage.GroupStore
func (s *Store) AddContactToGroup(ctx context.Context, contactID, groupID int64) error {
	_, err := s.exec(ctx, `INSERT INTO contact_group_members (contact_id, group_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, contactID, groupID)
	if err != nil {
		return fmt.Errorf("failed to add contact %d to group %d: %w", contactID, groupID, err)
	}
	return nil
}

// GroupIDsForContact implements storage.GroupStore
func (s *Store) GroupIDsForContact(ctx context.Context, contactID int64) ([]int64, error) {
	rows, err := s.query(ctx, `SELECT g.id FROM contact_group_members m
		JOIN contact_groups g ON g.id = m.group_id
		WHERE m.contact_id = ? AND g.is_active = ? ORDER BY g.id`, contactID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups for contact %d: %w", contactID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateContact implements storage.GroupStore
func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	id, err := s.insert(ctx, `INSERT INTO contacts (org_id, name, urn) VALUES (?, ?, ?)`, c.OrgID, c.Name, c.URN)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	c.ID = id
	return nil
}

// GetWorkflow implements storage.WorkflowStore
func (s *Store) GetWorkflow(ctx context.Context, orgID, id int64) (*models.Workflow, error) {
	var w models.Workflow
	err := s.queryRow(ctx, `SELECT id, org_id, name, is_active, is_archived, ignore_triggers
		FROM workflows WHERE id = ? AND org_id = ?`, id, orgID).
		Scan(&w.ID, &w.OrgID, &w.Name, &w.IsActive, &w.IsArchived, &w.IgnoreTriggers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %d: %w", id, err)
	}
	return &w, nil
}

// CreateWorkflow implements storage.WorkflowStore
func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	id, err := s.insert(ctx, `INSERT INTO workflows (org_id, name, is_active, is_archived, ignore_triggers)
		VALUES (?, ?, ?, ?, ?)`, w.OrgID, w.Name, w.IsActive, w.IsArchived, w.IgnoreTriggers)
	if err != nil {
		return fmt.Errorf("failed to create workflow %q: %w", w.Name, err)
	}
	w.ID = id
	return nil
}

// ActiveRunFor implements storage.RunStore
func (s *Store) ActiveRunFor(ctx context.Context, contactID int64) (*models.Run, error) {
	var (
		r        models.Run
		exitedAt sql.NullTime
	)
	err := s.queryRow(ctx, `SELECT r.id, r.contact_id, r.workflow_id, r.is_active, r.exited_at, r.created_at, w.ignore_triggers
		FROM runs r JOIN workflows w ON w.id = r.workflow_id
		WHERE r.contact_id = ? AND r.is_active = ? AND w.is_active = ? AND w.is_archived = ?
		ORDER BY r.created_at DESC, r.id DESC LIMIT 1`, contactID, true, true, false).
		Scan(&r.ID, &r.ContactID, &r.WorkflowID, &r.IsActive, &exitedAt, &r.CreatedAt, &r.IgnoreTriggers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active run for contact %d: %w", contactID, err)
	}
	if exitedAt.Valid {
		r.ExitedAt = &exitedAt.Time
	}
	return &r, nil
}

// CreateRun implements storage.RunStore
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	id, err := s.insert(ctx, `INSERT INTO runs (contact_id, workflow_id, is_active, exited_at, created_at)
		VALUES (?, ?, ?, ?, ?)`, r.ContactID, r.WorkflowID, r.IsActive, nullTime(r.ExitedAt), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	r.ID = id
	return nil
}

// HasActiveChannel implements storage.ChannelStore
func (s *Store) HasActiveChannel(ctx context.Context, orgID int64) (bool, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM channels WHERE org_id = ? AND is_active = ?`, orgID, true).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count channels for org %d: %w", orgID, err)
	}
	return count > 0, nil
}

// CreateChannel implements storage.ChannelStore
func (s *Store) CreateChannel(ctx context.Context, ch *models.Channel) error {
	id, err := s.insert(ctx, `INSERT INTO channels (org_id, name, is_active) VALUES (?, ?, ?)`,
		ch.OrgID, ch.Name, ch.IsActive)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	ch.ID = id
	return nil
}

// GetSchedule implements storage.ChannelStore
func (s *Store) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	var sc models.Schedule
	err := s.queryRow(ctx, `SELECT id, org_id, cron_spec FROM schedules WHERE id = ?`, id).
		Scan(&sc.ID, &sc.OrgID, &sc.CronSpec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %d: %w", id, err)
	}
	return &sc, nil
}

// CreateSchedule implements storage.ChannelStore
func (s *Store) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	id, err := s.insert(ctx, `INSERT INTO schedules (org_id, cron_spec) VALUES (?, ?)`, sc.OrgID, sc.CronSpec)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	sc.ID = id
	return nil
}
