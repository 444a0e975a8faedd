// Package storagetest holds the behavioural test suite every storage.Store
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

// NewStoreFunc returns a fresh, empty store; the suite closes it
type NewStoreFunc func(t *testing.T) storage.Store

// RunStoreTests runs the full suite against the backend produced by newStore
func RunStoreTests(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAndGetTrigger", testCreateAndGetTrigger},
		{"FindTriggersFilters", testFindTriggersFilters},
		{"FindTriggersGroupFilters", testFindTriggersGroupFilters},
		{"UpdateTrigger", testUpdateTrigger},
		{"SetArchived", testSetArchived},
		{"ArchiveMatching", testArchiveMatching},
		{"RecordFire", testRecordFire},
		{"RecordFireConcurrent", testRecordFireConcurrent},
		{"Groups", testGroups},
		{"Workflows", testWorkflows},
		{"ActiveRunFor", testActiveRunFor},
		{"ChannelsAndSchedules", testChannelsAndSchedules},
		{"TransactionCommit", testTransactionCommit},
		{"TransactionRollback", testTransactionRollback},
		{"TransactionCancelled", testTransactionCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

type org struct {
	id       int64
	workflow *models.Workflow
	groupA   *models.ContactGroup
	groupB   *models.ContactGroup
	contact  *models.Contact
}

func seedOrg(t *testing.T, s storage.Store, orgID int64) *org {
	ctx := context.Background()
	o := &org{id: orgID}

	o.workflow = &models.Workflow{OrgID: orgID, Name: "Registration", IsActive: true}
	require.NoError(t, s.CreateWorkflow(ctx, o.workflow))

	o.groupA = &models.ContactGroup{OrgID: orgID, Name: "Alpha", IsActive: true}
	require.NoError(t, s.CreateGroup(ctx, o.groupA))
	o.groupB = &models.ContactGroup{OrgID: orgID, Name: "Bravo", IsActive: true}
	require.NoError(t, s.CreateGroup(ctx, o.groupB))

	o.contact = &models.Contact{OrgID: orgID, Name: "Ann", URN: "tel:+250788000001"}
	require.NoError(t, s.CreateContact(ctx, o.contact))

	return o
}

func (o *org) trigger(t *testing.T, s storage.Store, typ models.TriggerType, keyword string, groups ...models.ContactGroup) *models.Trigger {
	tr := &models.Trigger{
		OrgID:      o.id,
		Type:       typ,
		Keyword:    keyword,
		WorkflowID: o.workflow.ID,
		Groups:     groups,
		IsActive:   true,
		CreatedBy:  "admin",
		ModifiedBy: "admin",
	}
	require.NoError(t, s.CreateTrigger(context.Background(), tr))
	return tr
}

func ids(triggers []*models.Trigger) []int64 {
	out := make([]int64, len(triggers))
	for i, t := range triggers {
		out[i] = t.ID
	}
	return out
}

func testCreateAndGetTrigger(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	channel := int64(42)

	tr := &models.Trigger{
		OrgID:      o.id,
		Type:       models.TriggerTypeKeyword,
		Keyword:    "join",
		WorkflowID: o.workflow.ID,
		Groups:     []models.ContactGroup{*o.groupB, *o.groupA},
		Contacts:   []models.Contact{*o.contact},
		ChannelID:  &channel,
		IsActive:   true,
		CreatedBy:  "admin",
	}
	require.NoError(t, s.CreateTrigger(ctx, tr))
	assert.NotZero(t, tr.ID)
	assert.False(t, tr.CreatedAt.IsZero())

	got, err := s.GetTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeKeyword, got.Type)
	assert.Equal(t, "join", got.Keyword)
	assert.Equal(t, o.workflow.ID, got.WorkflowID)
	require.NotNil(t, got.ChannelID)
	assert.Equal(t, int64(42), *got.ChannelID)
	assert.Nil(t, got.ScheduleID)
	assert.Nil(t, got.LastFiredAt)
	assert.Equal(t, 0, got.FireCount)
	assert.True(t, got.IsActive)
	assert.Equal(t, "admin", got.CreatedBy)

	// groups come back ordered by name
	require.Len(t, got.Groups, 2)
	assert.Equal(t, "Alpha", got.Groups[0].Name)
	assert.Equal(t, "Bravo", got.Groups[1].Name)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, o.contact.ID, got.Contacts[0].ID)

	_, err = s.GetTrigger(ctx, tr.ID+1000)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testFindTriggersFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	other := seedOrg(t, s, 2)

	join := o.trigger(t, s, models.TriggerTypeKeyword, "join")
	upper := o.trigger(t, s, models.TriggerTypeKeyword, "JOIN")
	stop := o.trigger(t, s, models.TriggerTypeKeyword, "stop")
	missed := o.trigger(t, s, models.TriggerTypeMissedCall, "")
	other.trigger(t, s, models.TriggerTypeKeyword, "join")

	archived := o.trigger(t, s, models.TriggerTypeKeyword, "join")
	require.NoError(t, s.SetArchived(ctx, []int64{archived.ID}, true))

	inactive := o.trigger(t, s, models.TriggerTypeKeyword, "join")
	inactive.IsActive = false
	require.NoError(t, s.UpdateTrigger(ctx, inactive))

	found, err := s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, Type: models.TriggerTypeKeyword, Keyword: "Join"})
	require.NoError(t, err)
	assert.Equal(t, []int64{join.ID, upper.ID, archived.ID}, ids(found))

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, Keyword: "join", Archived: storage.Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, []int64{join.ID, upper.ID}, ids(found))

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, Type: models.TriggerTypeMissedCall})
	require.NoError(t, err)
	assert.Equal(t, []int64{missed.ID}, ids(found))

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{IDs: []int64{stop.ID, inactive.ID, missed.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{stop.ID, missed.ID}, ids(found), "inactive triggers are never returned")

	// archiving the workflow hides its triggers from startable lookups
	w := &models.Workflow{OrgID: o.id, Name: "Old", IsActive: true, IsArchived: true}
	require.NoError(t, s.CreateWorkflow(ctx, w))
	stale := o.trigger(t, s, models.TriggerTypeKeyword, "old")
	stale.WorkflowID = w.ID
	require.NoError(t, s.UpdateTrigger(ctx, stale))

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, Keyword: "old", StartableWorkflow: true})
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, Keyword: "old"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func testFindTriggersGroupFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)

	noGroups := o.trigger(t, s, models.TriggerTypeKeyword, "join")
	alpha := o.trigger(t, s, models.TriggerTypeKeyword, "join", *o.groupA)
	both := o.trigger(t, s, models.TriggerTypeKeyword, "join", *o.groupA, *o.groupB)
	bravo := o.trigger(t, s, models.TriggerTypeKeyword, "join", *o.groupB)

	found, err := s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, GroupIDs: []int64{o.groupA.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alpha.ID, both.ID}, ids(found))

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, GroupIDs: []int64{o.groupA.ID, o.groupB.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alpha.ID, both.ID, bravo.ID}, ids(found))
	assert.Len(t, found[1].Groups, 2, "matching triggers carry all their groups")

	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, NoGroups: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{noGroups.ID}, ids(found))

	require.NoError(t, s.AddTriggerGroups(ctx, noGroups.ID, []int64{o.groupB.ID, o.groupB.ID}))
	found, err = s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, NoGroups: true})
	require.NoError(t, err)
	assert.Empty(t, found)

	got, err := s.GetTrigger(ctx, noGroups.ID)
	require.NoError(t, err)
	assert.Len(t, got.Groups, 1)
}

func testUpdateTrigger(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	tr := o.trigger(t, s, models.TriggerTypeKeyword, "join")

	w := &models.Workflow{OrgID: o.id, Name: "Other", IsActive: true}
	require.NoError(t, s.CreateWorkflow(ctx, w))

	created := tr.ModifiedAt
	tr.WorkflowID = w.ID
	tr.IsArchived = true
	tr.ModifiedBy = "importer"
	require.NoError(t, s.UpdateTrigger(ctx, tr))
	assert.False(t, tr.ModifiedAt.Before(created))

	got, err := s.GetTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.WorkflowID)
	assert.True(t, got.IsArchived)
	assert.Equal(t, "importer", got.ModifiedBy)

	missing := &models.Trigger{ID: tr.ID + 1000, WorkflowID: w.ID}
	assert.True(t, errors.Is(s.UpdateTrigger(ctx, missing), storage.ErrNotFound))
}

func testSetArchived(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	a := o.trigger(t, s, models.TriggerTypeKeyword, "a")
	b := o.trigger(t, s, models.TriggerTypeKeyword, "b")

	require.NoError(t, s.SetArchived(ctx, []int64{a.ID, b.ID}, true))
	require.NoError(t, s.SetArchived(ctx, nil, true))

	found, err := s.FindTriggers(ctx, storage.TriggerFilter{OrgID: o.id, Archived: storage.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(found))

	require.NoError(t, s.SetArchived(ctx, []int64{a.ID}, false))
	got, err := s.GetTrigger(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
}

func testArchiveMatching(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	other := seedOrg(t, s, 2)

	join1 := o.trigger(t, s, models.TriggerTypeKeyword, "join")
	join2 := o.trigger(t, s, models.TriggerTypeKeyword, "JOIN")
	stop := o.trigger(t, s, models.TriggerTypeKeyword, "stop")
	foreign := other.trigger(t, s, models.TriggerTypeKeyword, "join")
	m1 := o.trigger(t, s, models.TriggerTypeMissedCall, "")
	m2 := o.trigger(t, s, models.TriggerTypeMissedCall, "")

	archived, err := s.ArchiveMatching(ctx, storage.ArchiveFilter{
		OrgID: o.id, Type: models.TriggerTypeKeyword, Keyword: "join", ExceptIDs: []int64{join1.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{join2.ID}, archived)

	archived, err = s.ArchiveMatching(ctx, storage.ArchiveFilter{OrgID: o.id, Type: models.TriggerTypeMissedCall})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{m1.ID, m2.ID}, archived)

	// already archived triggers are not reported again
	archived, err = s.ArchiveMatching(ctx, storage.ArchiveFilter{OrgID: o.id, Type: models.TriggerTypeMissedCall})
	require.NoError(t, err)
	assert.Empty(t, archived)

	for _, id := range []int64{join1.ID, stop.ID, foreign.ID} {
		got, err := s.GetTrigger(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.IsArchived, "trigger %d should stay active", id)
	}
}

func testRecordFire(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	tr := o.trigger(t, s, models.TriggerTypeKeyword, "join")

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	fired, ok, err := s.RecordFire(ctx, tr.ID, first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, fired.FireCount)

	fired, ok, err = s.RecordFire(ctx, tr.ID, second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, fired.FireCount)
	require.NotNil(t, fired.LastFiredAt)
	assert.True(t, second.Equal(*fired.LastFiredAt))

	got, err := s.GetTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FireCount)
	require.NotNil(t, got.LastFiredAt)
	assert.True(t, second.Equal(*got.LastFiredAt))

	require.NoError(t, s.SetArchived(ctx, []int64{tr.ID}, true))
	fired, ok, err = s.RecordFire(ctx, tr.ID, second.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, fired)

	got, err = s.GetTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FireCount, "archived triggers are not stamped")

	_, ok, err = s.RecordFire(ctx, tr.ID+1000, second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRecordFireConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	tr := o.trigger(t, s, models.TriggerTypeCatchAll, "")

	const fires = 20
	var wg sync.WaitGroup
	errs := make(chan error, fires)
	for i := 0; i < fires; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.RecordFire(ctx, tr.ID, time.Now()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetTrigger(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, fires, got.FireCount)
}

func testGroups(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	other := seedOrg(t, s, 2)

	g, err := s.GetGroup(ctx, o.id, o.groupA.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", g.Name)

	_, err = s.GetGroup(ctx, other.id, o.groupA.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "groups are scoped to their org")

	g, err = s.FindGroupByName(ctx, other.id, "Bravo")
	require.NoError(t, err)
	assert.Equal(t, other.groupB.ID, g.ID)

	_, err = s.FindGroupByName(ctx, o.id, "bravo")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	dormant := &models.ContactGroup{OrgID: o.id, Name: "Dormant"}
	require.NoError(t, s.CreateGroup(ctx, dormant))

	require.NoError(t, s.AddContactToGroup(ctx, o.contact.ID, o.groupB.ID))
	require.NoError(t, s.AddContactToGroup(ctx, o.contact.ID, dormant.ID))
	require.NoError(t, s.AddContactToGroup(ctx, o.contact.ID, o.groupB.ID))

	groupIDs, err := s.GroupIDsForContact(ctx, o.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{o.groupB.ID}, groupIDs, "inactive groups are excluded")

	require.NoError(t, s.ActivateGroup(ctx, dormant.ID))
	groupIDs, err = s.GroupIDsForContact(ctx, o.contact.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{o.groupB.ID, dormant.ID}, groupIDs)

	assert.True(t, errors.Is(s.ActivateGroup(ctx, dormant.ID+1000), storage.ErrNotFound))
}

func testWorkflows(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)

	w, err := s.GetWorkflow(ctx, o.id, o.workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Registration", w.Name)
	assert.True(t, w.Startable())

	_, err = s.GetWorkflow(ctx, o.id+1, o.workflow.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testActiveRunFor(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)

	run, err := s.ActiveRunFor(ctx, o.contact.ID)
	require.NoError(t, err)
	assert.Nil(t, run)

	survey := &models.Workflow{OrgID: o.id, Name: "Survey", IsActive: true, IgnoreTriggers: true}
	require.NoError(t, s.CreateWorkflow(ctx, survey))

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateRun(ctx, &models.Run{ContactID: o.contact.ID, WorkflowID: o.workflow.ID, IsActive: true, CreatedAt: base}))
	latest := &models.Run{ContactID: o.contact.ID, WorkflowID: survey.ID, IsActive: true, CreatedAt: base.Add(time.Hour)}
	require.NoError(t, s.CreateRun(ctx, latest))
	require.NoError(t, s.CreateRun(ctx, &models.Run{ContactID: o.contact.ID, WorkflowID: o.workflow.ID, IsActive: false, CreatedAt: base.Add(2 * time.Hour)}))

	run, err = s.ActiveRunFor(ctx, o.contact.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, latest.ID, run.ID)
	assert.True(t, run.IgnoreTriggers)
	assert.True(t, run.SuppressesTriggers())
}

func testChannelsAndSchedules(t *testing.T, s storage.Store) {
	ctx := context.Background()

	has, err := s.HasActiveChannel(ctx, 1)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.CreateChannel(ctx, &models.Channel{OrgID: 1, Name: "Retired", IsActive: false}))
	has, err = s.HasActiveChannel(ctx, 1)
	require.NoError(t, err)
	assert.False(t, has)

	ch := &models.Channel{OrgID: 1, Name: "SMS", IsActive: true}
	require.NoError(t, s.CreateChannel(ctx, ch))
	assert.NotZero(t, ch.ID)
	has, err = s.HasActiveChannel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	sc := &models.Schedule{OrgID: 1, CronSpec: "0 9 * * 1"}
	require.NoError(t, s.CreateSchedule(ctx, sc))
	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1", got.CronSpec)

	_, err = s.GetSchedule(ctx, sc.ID+1000)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testTransactionCommit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)

	var created *models.Trigger
	err := s.WithinTransaction(ctx, func(tx storage.Store) error {
		created = o.trigger(t, tx, models.TriggerTypeKeyword, "join")
		return tx.WithinTransaction(ctx, func(nested storage.Store) error {
			return nested.SetArchived(ctx, []int64{created.ID}, true)
		})
	})
	require.NoError(t, err)

	got, err := s.GetTrigger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

func testTransactionRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	o := seedOrg(t, s, 1)
	kept := o.trigger(t, s, models.TriggerTypeKeyword, "keep")

	boom := errors.New("boom")
	var created *models.Trigger
	err := s.WithinTransaction(ctx, func(tx storage.Store) error {
		created = o.trigger(t, tx, models.TriggerTypeKeyword, "join")
		if err := tx.SetArchived(ctx, []int64{kept.ID}, true); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetTrigger(ctx, created.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	got, err := s.GetTrigger(ctx, kept.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
}

func testTransactionCancelled(t *testing.T, s storage.Store) {
	o := seedOrg(t, s, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var created *models.Trigger
	err := s.WithinTransaction(ctx, func(tx storage.Store) error {
		created = o.trigger(t, tx, models.TriggerTypeKeyword, "join")
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.GetTrigger(context.Background(), created.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
