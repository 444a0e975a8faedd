package triggers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/dedup"
	"flow-triggers/internal/dispatch"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
	"flow-triggers/internal/storage/memory"
	"flow-triggers/internal/testutil"
)

type harness struct {
	store   *memory.Store
	org     *testutil.OrgFixture
	engine  *testutil.RecordingEngine
	manager *Manager
}

func newHarness(t *testing.T) *harness {
	store := memory.New()
	org := testutil.SeedOrg(t, store, 1)
	engine := &testutil.RecordingEngine{}
	guard, err := dedup.NewLRUGuard(1000, time.Hour)
	require.NoError(t, err)

	manager := NewManager(store, engine, locks.NewLocalManager(), guard,
		&ManagerConfig{MinImportVersion: 3, SiteOrigin: "https://flows.example.org"},
		logging.NewNopLogger())
	return &harness{store: store, org: org, engine: engine, manager: manager}
}

func (h *harness) keyword(t *testing.T, kw string, groups ...int64) *models.Trigger {
	tr, err := h.manager.Create(context.Background(), CreateRequest{
		OrgID:      h.org.ID,
		Type:       models.TriggerTypeKeyword,
		Keyword:    kw,
		WorkflowID: h.org.Workflow.ID,
		GroupIDs:   groups,
		Actor:      "admin",
	})
	require.NoError(t, err)
	return tr
}

func TestCreate(t *testing.T) {
	h := newHarness(t)

	tr := h.keyword(t, "Join", h.org.Alpha.ID)
	assert.NotZero(t, tr.ID)
	assert.Equal(t, "join", tr.Keyword)
	assert.True(t, tr.IsActive)
	assert.False(t, tr.IsArchived)
	assert.Equal(t, "admin", tr.CreatedBy)

	stored, err := h.manager.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Len(t, stored.Groups, 1)
	assert.Equal(t, "Alpha", stored.Groups[0].Name)
}

func TestCreate_DoesNotDisplace(t *testing.T) {
	h := newHarness(t)

	first := h.keyword(t, "join")
	second := h.keyword(t, "join")

	active, err := h.manager.List(context.Background(), h.org.ID, models.TriggerTypeKeyword, storage.Bool(false))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	validCron := &models.Schedule{OrgID: h.org.ID, CronSpec: "0 9 * * 1"}
	require.NoError(t, h.store.CreateSchedule(ctx, validCron))
	badCron := &models.Schedule{OrgID: h.org.ID, CronSpec: "every tuesday"}
	require.NoError(t, h.store.CreateSchedule(ctx, badCron))

	other := testutil.SeedOrg(t, h.store, 2)

	tests := []struct {
		name    string
		req     CreateRequest
		errType errors.ErrorType
	}{
		{
			"keyword required",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeKeyword, WorkflowID: h.org.Workflow.ID},
			errors.ErrTypeValidation,
		},
		{
			"keyword must be one word",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeKeyword, Keyword: "join now", WorkflowID: h.org.Workflow.ID},
			errors.ErrTypeValidation,
		},
		{
			"keyword too long",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeKeyword, Keyword: "abcdefghijklmnopq", WorkflowID: h.org.Workflow.ID},
			errors.ErrTypeValidation,
		},
		{
			"keyword on a missed call trigger",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeMissedCall, Keyword: "join", WorkflowID: h.org.Workflow.ID},
			errors.ErrTypeValidation,
		},
		{
			"unknown type",
			CreateRequest{OrgID: h.org.ID, Type: "Z", WorkflowID: h.org.Workflow.ID},
			errors.ErrTypeValidation,
		},
		{
			"workflow required",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeMissedCall},
			errors.ErrTypeValidation,
		},
		{
			"schedule required",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeSchedule, WorkflowID: h.org.Workflow.ID},
			errors.ErrTypeValidation,
		},
		{
			"invalid cron",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeSchedule, WorkflowID: h.org.Workflow.ID, ScheduleID: &badCron.ID},
			errors.ErrTypeValidation,
		},
		{
			"workflow in another org",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeMissedCall, WorkflowID: other.Workflow.ID},
			errors.ErrTypeNotFound,
		},
		{
			"group in another org",
			CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeMissedCall, WorkflowID: h.org.Workflow.ID, GroupIDs: []int64{other.Alpha.ID}},
			errors.ErrTypeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.manager.Create(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.errType, errors.GetType(err))
		})
	}

	tr, err := h.manager.Create(ctx, CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeSchedule, WorkflowID: h.org.Workflow.ID, ScheduleID: &validCron.ID})
	require.NoError(t, err)
	require.NotNil(t, tr.ScheduleID)

	all, err := h.manager.List(ctx, h.org.ID, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "failed creates leave nothing behind")
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.Get(context.Background(), 12345)
	assert.True(t, errors.IsNotFound(err))

	_, err = h.manager.Archive(context.Background(), []int64{12345})
	assert.True(t, errors.IsNotFound(err))
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	member := h.org.AddContact(t, "Bob", h.org.Alpha)
	fallback := h.keyword(t, "join")
	specific := h.keyword(t, "join", h.org.Alpha.ID)

	// the group member hits the group trigger, everyone else the fallback
	fired, err := h.manager.DispatchInbound(ctx, &models.Message{ID: 1, OrgID: h.org.ID, Contact: member, Text: "join"})
	require.NoError(t, err)
	assert.True(t, fired)
	fired, err = h.manager.DispatchInbound(ctx, &models.Message{ID: 2, OrgID: h.org.ID, Contact: h.org.Contact, Text: "Join!"})
	require.NoError(t, err)
	assert.True(t, fired)

	requests := h.engine.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, specific.ID, requests[0].TriggerID)
	assert.Equal(t, fallback.ID, requests[1].TriggerID)

	// archive both, then restore them together: only one survives for the keyword
	ids, err := h.manager.Archive(ctx, []int64{fallback.ID, specific.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{fallback.ID, specific.ID}, ids)

	fired, err = h.manager.DispatchInbound(ctx, &models.Message{ID: 3, OrgID: h.org.ID, Contact: member, Text: "join"})
	require.NoError(t, err)
	assert.False(t, fired)

	ids, err = h.manager.Restore(ctx, []int64{fallback.ID, specific.ID})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	active, err := h.manager.List(ctx, h.org.ID, models.TriggerTypeKeyword, storage.Bool(false))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, specific.ID, active[0].ID)

	// export and re-import on the same site updates rather than duplicates
	doc, err := h.manager.Export(ctx, h.org.ID)
	require.NoError(t, err)
	require.Len(t, doc.Triggers, 1)
	require.NoError(t, h.manager.Import(ctx, doc, h.org.ID, "importer"))

	all, err := h.manager.List(ctx, h.org.ID, models.TriggerTypeKeyword, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	single, err := h.manager.ExportTrigger(ctx, specific.ID)
	require.NoError(t, err)
	assert.Equal(t, "join", single.Keyword)
}

func TestCatchAndCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.manager.Create(ctx, CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeMissedCall, WorkflowID: h.org.Workflow.ID})
	require.NoError(t, err)
	ivr := h.org.AddWorkflow(t, "IVR")
	_, err = h.manager.Create(ctx, CreateRequest{OrgID: h.org.ID, Type: models.TriggerTypeInboundCall, WorkflowID: ivr.ID})
	require.NoError(t, err)

	call := &models.Call{ID: 9, OrgID: h.org.ID, Contact: h.org.Contact, Kind: models.CallKindMissed}
	fired, err := h.manager.CatchTriggers(ctx, call, models.TriggerTypeMissedCall, nil)
	require.NoError(t, err)
	assert.True(t, fired)

	wf, err := h.manager.FindWorkflowForInboundCall(ctx, h.org.Contact)
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, ivr.ID, wf.ID)

	assert.Equal(t, []int64{h.org.Workflow.ID}, h.engine.WorkflowIDs())
}

func TestFire(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	tr, err := h.manager.Create(ctx, CreateRequest{
		OrgID:      h.org.ID,
		Type:       models.TriggerTypeFollow,
		WorkflowID: h.org.Workflow.ID,
		ContactIDs: []int64{h.org.Contact.ID},
	})
	require.NoError(t, err)

	result, err := h.manager.Fire(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.FireResultNoChannel, result)

	h.org.AddChannel(t, "sms")
	result, err = h.manager.Fire(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.FireResultFired, result)

	requests := h.engine.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, []int64{h.org.Contact.ID}, requests[0].ContactIDs)
}
