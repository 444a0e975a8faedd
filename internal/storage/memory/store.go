// Package memory provides an in-process storage.Store for tests and single
// node deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

type state struct {
	nextID    int64
	triggers  map[int64]*triggerRow
	groups    map[int64]*models.ContactGroup
	contacts  map[int64]*models.Contact
	members   map[int64]map[int64]bool // contact -> groups
	workflows map[int64]*models.Workflow
	runs      map[int64]*models.Run
	channels  map[int64]*models.Channel
	schedules map[int64]*models.Schedule
}

type triggerRow struct {
	trigger  models.Trigger
	groups   []int64
	contacts []int64
}

func newState() *state {
	return &state{
		triggers:  make(map[int64]*triggerRow),
		groups:    make(map[int64]*models.ContactGroup),
		contacts:  make(map[int64]*models.Contact),
		members:   make(map[int64]map[int64]bool),
		workflows: make(map[int64]*models.Workflow),
		runs:      make(map[int64]*models.Run),
		channels:  make(map[int64]*models.Channel),
		schedules: make(map[int64]*models.Schedule),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for id, row := range s.triggers {
		r := &triggerRow{
			trigger:  *row.trigger.Clone(),
			groups:   append([]int64(nil), row.groups...),
			contacts: append([]int64(nil), row.contacts...),
		}
		c.triggers[id] = r
	}
	for id, g := range s.groups {
		v := *g
		c.groups[id] = &v
	}
	for id, ct := range s.contacts {
		v := *ct
		c.contacts[id] = &v
	}
	for id, set := range s.members {
		m := make(map[int64]bool, len(set))
		for k, v := range set {
			m[k] = v
		}
		c.members[id] = m
	}
	for id, w := range s.workflows {
		v := *w
		c.workflows[id] = &v
	}
	for id, r := range s.runs {
		v := *r
		c.runs[id] = &v
	}
	for id, ch := range s.channels {
		v := *ch
		c.channels[id] = &v
	}
	for id, sc := range s.schedules {
		v := *sc
		c.schedules[id] = &v
	}
	return c
}

// Store is an in-memory storage.Store. Transactions are serialized and roll
// back by restoring a snapshot, so writes made outside a transaction while
// one is running are lost if it rolls back.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *state
	now  func() time.Time
}

// New returns an empty store
func New() *Store {
	return &Store{
		data: newState(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for creation and modification stamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.data.nextID++
	return s.data.nextID
}

// WithinTransaction implements storage.Store
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	err := fn(&txStore{Store: s})
	if err == nil {
		// a cancelled context never commits
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore is the view handed to transaction callbacks; nested calls reuse the transaction.
type txStore struct {
	*Store
}

func (t *txStore) WithinTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return fn(t)
}

func (s *Store) Health(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) materialize(row *triggerRow) *models.Trigger {
	t := row.trigger.Clone()
	t.Groups = make([]models.ContactGroup, 0, len(row.groups))
	for _, gid := range row.groups {
		if g, ok := s.data.groups[gid]; ok {
			t.Groups = append(t.Groups, *g)
		}
	}
	sort.Slice(t.Groups, func(i, j int) bool {
		if t.Groups[i].Name != t.Groups[j].Name {
			return t.Groups[i].Name < t.Groups[j].Name
		}
		return t.Groups[i].ID < t.Groups[j].ID
	})
	t.Contacts = make([]models.Contact, 0, len(row.contacts))
	for _, cid := range row.contacts {
		if c, ok := s.data.contacts[cid]; ok {
			t.Contacts = append(t.Contacts, *c)
		}
	}
	sort.Slice(t.Contacts, func(i, j int) bool { return t.Contacts[i].ID < t.Contacts[j].ID })
	return t
}

// CreateTrigger implements storage.TriggerStore
func (s *Store) CreateTrigger(ctx context.Context, t *models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.ModifiedAt.IsZero() {
		t.ModifiedAt = t.CreatedAt
	}
	t.ID = s.id()

	row := &triggerRow{trigger: *t.Clone()}
	row.trigger.Groups = nil
	row.trigger.Contacts = nil
	row.groups = uniqueAppend(nil, t.GroupIDs())
	row.contacts = uniqueAppend(nil, t.ContactIDs())
	s.data.triggers[t.ID] = row
	return nil
}

// GetTrigger implements storage.TriggerStore
func (s *Store) GetTrigger(ctx context.Context, id int64) (*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.data.triggers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.materialize(row), nil
}

// FindTriggers implements storage.TriggerStore
func (s *Store) FindTriggers(ctx context.Context, filter storage.TriggerFilter) ([]*models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[int64]bool
	if len(filter.IDs) > 0 {
		ids = make(map[int64]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}
	groupSet := make(map[int64]bool, len(filter.GroupIDs))
	for _, id := range filter.GroupIDs {
		groupSet[id] = true
	}

	var result []*models.Trigger
	for _, row := range s.data.triggers {
		t := &row.trigger
		if !t.IsActive {
			continue
		}
		if filter.OrgID != 0 && t.OrgID != filter.OrgID {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.Keyword != "" && !t.HasKeyword(filter.Keyword) {
			continue
		}
		if ids != nil && !ids[t.ID] {
			continue
		}
		if filter.Archived != nil && t.IsArchived != *filter.Archived {
			continue
		}
		if filter.StartableWorkflow {
			w, ok := s.data.workflows[t.WorkflowID]
			if !ok || !w.Startable() {
				continue
			}
		}
		if len(groupSet) > 0 && !intersects(row.groups, groupSet) {
			continue
		}
		if filter.NoGroups && len(row.groups) > 0 {
			continue
		}
		result = append(result, s.materialize(row))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateTrigger implements storage.TriggerStore
func (s *Store) UpdateTrigger(ctx context.Context, t *models.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.triggers[t.ID]
	if !ok {
		return storage.ErrNotFound
	}

	t.ModifiedAt = s.now()
	saved := t.Clone()
	row.trigger.Keyword = saved.Keyword
	row.trigger.WorkflowID = saved.WorkflowID
	row.trigger.ChannelID = saved.ChannelID
	row.trigger.ScheduleID = saved.ScheduleID
	row.trigger.IsArchived = saved.IsArchived
	row.trigger.IsActive = saved.IsActive
	row.trigger.ModifiedAt = saved.ModifiedAt
	row.trigger.ModifiedBy = saved.ModifiedBy
	return nil
}

// SetArchived implements storage.TriggerStore
func (s *Store) SetArchived(ctx context.Context, ids []int64, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		if row, ok := s.data.triggers[id]; ok {
			row.trigger.IsArchived = archived
			row.trigger.ModifiedAt = now
		}
	}
	return nil
}

// ArchiveMatching implements storage.TriggerStore
func (s *Store) ArchiveMatching(ctx context.Context, filter storage.ArchiveFilter) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	except := make(map[int64]bool, len(filter.ExceptIDs))
	for _, id := range filter.ExceptIDs {
		except[id] = true
	}

	now := s.now()
	var archived []int64
	for id, row := range s.data.triggers {
		t := &row.trigger
		if t.OrgID != filter.OrgID || t.Type != filter.Type || !t.Matchable() || except[id] {
			continue
		}
		if filter.Keyword != "" && !t.HasKeyword(filter.Keyword) {
			continue
		}
		t.IsArchived = true
		t.ModifiedAt = now
		archived = append(archived, id)
	}

	sort.Slice(archived, func(i, j int) bool { return archived[i] < archived[j] })
	return archived, nil
}

// RecordFire implements storage.TriggerStore
func (s *Store) RecordFire(ctx context.Context, id int64, at time.Time) (*models.Trigger, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.triggers[id]
	if !ok || !row.trigger.Matchable() {
		return nil, false, nil
	}

	fired := at.UTC()
	row.trigger.FireCount++
	row.trigger.LastFiredAt = &fired
	return s.materialize(row), true, nil
}

// AddTriggerGroups implements storage.TriggerStore
func (s *Store) AddTriggerGroups(ctx context.Context, triggerID int64, groupIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.triggers[triggerID]
	if !ok {
		return storage.ErrNotFound
	}
	row.groups = uniqueAppend(row.groups, groupIDs)
	return nil
}

// AddTriggerContacts implements storage.TriggerStore
func (s *Store) AddTriggerContacts(ctx context.Context, triggerID int64, contactIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.triggers[triggerID]
	if !ok {
		return storage.ErrNotFound
	}
	row.contacts = uniqueAppend(row.contacts, contactIDs)
	return nil
}

// GetGroup implements storage.GroupStore
func (s *Store) GetGroup(ctx context.Context, orgID, id int64) (*models.ContactGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.data.groups[id]
	if !ok || g.OrgID != orgID {
		return nil, storage.ErrNotFound
	}
	v := *g
	return &v, nil
}

// FindGroupByName implements storage.GroupStore
func (s *Store) FindGroupByName(ctx context.Context, orgID int64, name string) (*models.ContactGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.ContactGroup
	for _, g := range s.data.groups {
		if g.OrgID == orgID && g.Name == name && (found == nil || g.ID < found.ID) {
			found = g
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	v := *found
	return &v, nil
}

// CreateGroup implements storage.GroupStore
func (s *Store) CreateGroup(ctx context.Context, g *models.ContactGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g.ID = s.id()
	v := *g
	s.data.groups[g.ID] = &v
	return nil
}

// ActivateGroup implements storage.GroupStore
func (s *Store) ActivateGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.data.groups[id]
	if !ok {
		return storage.ErrNotFound
	}
	g.IsActive = true
	return nil
}

// AddContactToGroup implements storage.GroupStore
func (s *Store) AddContactToGroup(ctx context.Context, contactID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.data.members[contactID]
	if !ok {
		set = make(map[int64]bool)
		s.data.members[contactID] = set
	}
	set[groupID] = true
	return nil
}

// GroupIDsForContact implements storage.GroupStore
func (s *Store) GroupIDsForContact(ctx context.Context, contactID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for gid := range s.data.members[contactID] {
		if g, ok := s.data.groups[gid]; ok && g.IsActive {
			ids = append(ids, gid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CreateContact implements storage.GroupStore
func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = s.id()
	v := *c
	s.data.contacts[c.ID] = &v
	return nil
}

// GetWorkflow implements storage.WorkflowStore
func (s *Store) GetWorkflow(ctx context.Context, orgID, id int64) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.data.workflows[id]
	if !ok || w.OrgID != orgID {
		return nil, storage.ErrNotFound
	}
	v := *w
	return &v, nil
}

// CreateWorkflow implements storage.WorkflowStore
func (s *Store) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.ID = s.id()
	v := *w
	s.data.workflows[w.ID] = &v
	return nil
}

// ActiveRunFor implements storage.RunStore
func (s *Store) ActiveRunFor(ctx context.Context, contactID int64) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Run
	for _, r := range s.data.runs {
		if r.ContactID != contactID || !r.IsActive {
			continue
		}
		w, ok := s.data.workflows[r.WorkflowID]
		if !ok || !w.Startable() {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) ||
			(r.CreatedAt.Equal(latest.CreatedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}

	v := *latest
	v.IgnoreTriggers = s.data.workflows[v.WorkflowID].IgnoreTriggers
	return &v, nil
}

// CreateRun implements storage.RunStore
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.ID = s.id()
	v := *r
	s.data.runs[r.ID] = &v
	return nil
}

// HasActiveChannel implements storage.ChannelStore
func (s *Store) HasActiveChannel(ctx context.Context, orgID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.data.channels {
		if ch.OrgID == orgID && ch.IsActive {
			return true, nil
		}
	}
	return false, nil
}

// CreateChannel implements storage.ChannelStore
func (s *Store) CreateChannel(ctx context.Context, ch *models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch.ID = s.id()
	v := *ch
	s.data.channels[ch.ID] = &v
	return nil
}

// GetSchedule implements storage.ChannelStore
func (s *Store) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.data.schedules[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v := *sc
	return &v, nil
}

// CreateSchedule implements storage.ChannelStore
func (s *Store) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc.ID = s.id()
	v := *sc
	s.data.schedules[sc.ID] = &v
	return nil
}

func intersects(ids []int64, set map[int64]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

func uniqueAppend(dst []int64, ids []int64) []int64 {
	for _, id := range ids {
		dup := false
		for _, existing := range dst {
			if existing == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
