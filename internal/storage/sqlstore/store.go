// Package sqlstore implements storage.Store over database/sql. The SQLite and
// PostgreSQL backends share it and differ only in Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is a storage.Store backed by a *sql.DB, or by a *sql.Tx inside WithinTransaction.
type Store struct {
	db      *sql.DB
	q       querier
	inTx    bool
	dialect Dialect
	now     func() time.Time
}

// New wraps db. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		q:       db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// WithinTransaction implements storage.Store
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStore := &Store{db: s.db, q: tx, inTx: true, dialect: s.dialect, now: s.now}

	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.inTx || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const triggerColumns = `t.id, t.org_id, t.trigger_type, t.keyword, t.workflow_id, t.channel_id, t.schedule_id,
	t.is_archived, t.is_active, t.last_fired_at, t.fire_count, t.created_at, t.modified_at, t.created_by, t.modified_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var (
		t           models.Trigger
		triggerType string
		keyword     sql.NullString
		channelID   sql.NullInt64
		scheduleID  sql.NullInt64
		lastFiredAt sql.NullTime
	)

	err := row.Scan(&t.ID, &t.OrgID, &triggerType, &keyword, &t.WorkflowID, &channelID, &scheduleID,
		&t.IsArchived, &t.IsActive, &lastFiredAt, &t.FireCount, &t.CreatedAt, &t.ModifiedAt, &t.CreatedBy, &t.ModifiedBy)
	if err != nil {
		return nil, err
	}

	t.Type = models.TriggerType(triggerType)
	t.Keyword = keyword.String
	if channelID.Valid {
		t.ChannelID = &channelID.Int64
	}
	if scheduleID.Valid {
		t.ScheduleID = &scheduleID.Int64
	}
	if lastFiredAt.Valid {
		at := lastFiredAt.Time.UTC()
		t.LastFiredAt = &at
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ModifiedAt = t.ModifiedAt.UTC()
	t.Groups = []models.ContactGroup{}
	t.Contacts = []models.Contact{}

	return &t, nil
}

// CreateTrigger implements storage.TriggerStore
func (s *Store) CreateTrigger(ctx context.Context, t *models.Trigger) error {
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ModifiedAt.IsZero() {
		t.ModifiedAt = t.CreatedAt
	}

	id, err := s.insert(ctx, `INSERT INTO triggers
		(org_id, trigger_type, keyword, workflow_id, channel_id, schedule_id, is_archived, is_active,
		 last_fired_at, fire_count, created_at, modified_at, created_by, modified_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrgID, string(t.Type), nullString(t.Keyword), t.WorkflowID, nullInt(t.ChannelID), nullInt(t.ScheduleID),
		t.IsArchived, t.IsActive, nullTime(t.LastFiredAt), t.FireCount, t.CreatedAt.UTC(), t.ModifiedAt.UTC(),
		t.CreatedBy, t.ModifiedBy)
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	t.ID = id

	if err := s.AddTriggerGroups(ctx, id, t.GroupIDs()); err != nil {
		return err
	}
	return s.AddTriggerContacts(ctx, id, t.ContactIDs())
}

// GetTrigger implements storage.TriggerStore
func (s *Store) GetTrigger(ctx context.Context, id int64) (*models.Trigger, error) {
	t, err := scanTrigger(s.queryRow(ctx, `SELECT `+triggerColumns+` FROM triggers t WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger %d: %w", id, err)
	}

	if err := s.loadLinks(ctx, []*models.Trigger{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// FindTriggers implements storage.TriggerStore
func (s *Store) FindTriggers(ctx context.Context, filter storage.TriggerFilter) ([]*models.Trigger, error) {
	var (
		b    strings.Builder
		args []interface{}
	)

	b.WriteString(`SELECT ` + triggerColumns + ` FROM triggers t`)
	if filter.StartableWorkflow {
		b.WriteString(` JOIN workflows w ON w.id = t.workflow_id`)
	}
	b.WriteString(` WHERE t.is_active = ?`)
	args = append(args, true)

	if filter.OrgID != 0 {
		b.WriteString(` AND t.org_id = ?`)
		args = append(args, filter.OrgID)
	}
	if filter.Type != "" {
		b.WriteString(` AND t.trigger_type = ?`)
		args = append(args, string(filter.Type))
	}
	if filter.Keyword != "" {
		b.WriteString(` AND LOWER(t.keyword) = ?`)
		args = append(args, strings.ToLower(filter.Keyword))
	}
	if len(filter.IDs) > 0 {
		b.WriteString(` AND t.id IN (` + placeholders(len(filter.IDs)) + `)`)
		args = appendInts(args, filter.IDs)
	}
	if filter.Archived != nil {
		b.WriteString(` AND t.is_archived = ?`)
		args = append(args, *filter.Archived)
	}
	if filter.StartableWorkflow {
		b.WriteString(` AND w.is_active = ? AND w.is_archived = ?`)
		args = append(args, true, false)
	}
	if len(filter.GroupIDs) > 0 {
		b.WriteString(` AND EXISTS (SELECT 1 FROM trigger_groups tg WHERE tg.trigger_id = t.id AND tg.group_id IN (` +
			placeholders(len(filter.GroupIDs)) + `))`)
		args = appendInts(args, filter.GroupIDs)
	}
	if filter.NoGroups {
		b.WriteString(` AND NOT EXISTS (SELECT 1 FROM trigger_groups tg WHERE tg.trigger_id = t.id)`)
	}
	b.WriteString(` ORDER BY t.id`)

	rows, err := s.query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadLinks(ctx, triggers); err != nil {
		return nil, err
	}
	return triggers, nil
}

func (s *Store) loadLinks(ctx context.Context, triggers []*models.Trigger) error {
	if len(triggers) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Trigger, len(triggers))
	ids := make([]int64, len(triggers))
	for i, t := range triggers {
		byID[t.ID] = t
		ids[i] = t.ID
	}

	rows, err := s.query(ctx, `SELECT tg.trigger_id, g.id, g.org_id, g.name, g.is_active
		FROM trigger_groups tg JOIN contact_groups g ON g.id = tg.group_id
		WHERE tg.trigger_id IN (`+placeholders(len(ids))+`) ORDER BY g.name, g.id`, appendInts(nil, ids)...)
	if err != nil {
		return fmt.Errorf("failed to load trigger groups: %w", err)
	}
	for rows.Next() {
		var triggerID int64
		var g models.ContactGroup
		if err := rows.Scan(&triggerID, &g.ID, &g.OrgID, &g.Name, &g.IsActive); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan trigger group: %w", err)
		}
		byID[triggerID].Groups = append(byID[triggerID].Groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.query(ctx, `SELECT tc.trigger_id, c.id, c.org_id, c.name, c.urn
		FROM trigger_contacts tc JOIN contacts c ON c.id = tc.contact_id
		WHERE tc.trigger_id IN (`+placeholders(len(ids))+`) ORDER BY c.id`, appendInts(nil, ids)...)
	if err != nil {
		return fmt.Errorf("failed to load trigger contacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var triggerID int64
		var c models.Contact
		if err := rows.Scan(&triggerID, &c.ID, &c.OrgID, &c.Name, &c.URN); err != nil {
			return fmt.Errorf("failed to scan trigger contact: %w", err)
		}
		byID[triggerID].Contacts = append(byID[triggerID].Contacts, c)
	}
	return rows.Err()
}

// UpdateTrigger implements storage.TriggerStore
func (s *Store) UpdateTrigger(ctx context.Context, t *models.Trigger) error {
	t.ModifiedAt = s.now()

	res, err := s.exec(ctx, `UPDATE triggers SET keyword = ?, workflow_id = ?, channel_id = ?, schedule_id = ?,
		is_archived = ?, is_active = ?, modified_at = ?, modified_by = ? WHERE id = ?`,
		nullString(t.Keyword), t.WorkflowID, nullInt(t.ChannelID), nullInt(t.ScheduleID),
		t.IsArchived, t.IsActive, t.ModifiedAt, t.ModifiedBy, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update trigger %d: %w", t.ID, err)
	}
	return expectRow(res)
}

// SetArchived implements storage.TriggerStore
func (s *Store) SetArchived(ctx context.Context, ids []int64, archived bool) error {
	if len(ids) == 0 {
		return nil
	}

	args := []interface{}{archived, s.now()}
	args = appendInts(args, ids)
	_, err := s.exec(ctx, `UPDATE triggers SET is_archived = ?, modified_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to set archived on triggers: %w", err)
	}
	return nil
}

// ArchiveMatching implements storage.TriggerStore
func (s *Store) ArchiveMatching(ctx context.Context, filter storage.ArchiveFilter) ([]int64, error) {
	var b strings.Builder
	args := []interface{}{true, s.now(), filter.OrgID, string(filter.Type), true, false}

	b.WriteString(`UPDATE triggers SET is_archived = ?, modified_at = ?
		WHERE org_id = ? AND trigger_type = ? AND is_active = ? AND is_archived = ?`)
	if filter.Keyword != "" {
		b.WriteString(` AND LOWER(keyword) = ?`)
		args = append(args, strings.ToLower(filter.Keyword))
	}
	if len(filter.ExceptIDs) > 0 {
		b.WriteString(` AND id NOT IN (` + placeholders(len(filter.ExceptIDs)) + `)`)
		args = appendInts(args, filter.ExceptIDs)
	}
	b.WriteString(` RETURNING id`)

	rows, err := s.query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to archive triggers: %w", err)
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

// RecordFire implements storage.TriggerStore
func (s *Store) RecordFire(ctx context.Context, id int64, at time.Time) (*models.Trigger, bool, error) {
	var fireCount int
	err := s.queryRow(ctx, `UPDATE triggers SET fire_count = fire_count + 1, last_fired_at = ?
		WHERE id = ? AND is_active = ? AND is_archived = ? RETURNING fire_count`,
		at.UTC(), id, true, false).Scan(&fireCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to record fire for trigger %d: %w", id, err)
	}

	t, err := s.GetTrigger(ctx, id)
	if err != nil {
		return nil, false, err
	}
	// report the values this update wrote, not a later concurrent one
	fired := at.UTC()
	t.FireCount = fireCount
	t.LastFiredAt = &fired
	return t, true, nil
}

// AddTriggerGroups implements storage.TriggerStore
func (s *Store) AddTriggerGroups(ctx context.Context, triggerID int64, groupIDs []int64) error {
	for _, groupID := range groupIDs {
		if _, err := s.exec(ctx, `INSERT INTO trigger_groups (trigger_id, group_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING`, triggerID, groupID); err != nil {
			return fmt.Errorf("failed to add group %d to trigger %d: %w", groupID, triggerID, err)
		}
	}
	return nil
}

// AddTriggerContacts implements storage.TriggerStore
func (s *Store) AddTriggerContacts(ctx context.Context, triggerID int64, contactIDs []int64) error {
	for _, contactID := range contactIDs {
		if _, err := s.exec(ctx, `INSERT INTO trigger_contacts (trigger_id, contact_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING`, triggerID, contactID); err != nil {
			return fmt.Errorf("failed to add contact %d to trigger %d: %w", contactID, triggerID, err)
		}
	}
	return nil
}
