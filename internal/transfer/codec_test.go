package transfer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
	"flow-triggers/internal/exclusivity"
	"flow-triggers/internal/locks"
	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
	"flow-triggers/internal/storage/memory"
	"flow-triggers/internal/testutil"
)

const site = "https://flows.example.org"

func setup(t *testing.T) (*Codec, *memory.Store, *testutil.OrgFixture) {
	store := memory.New()
	org := testutil.SeedOrg(t, store, 1)
	logger := logging.NewNopLogger()
	lockManager := locks.NewLocalManager()
	codec := New(store, exclusivity.New(store, lockManager, logger), lockManager, Config{MinVersion: 3, Site: site}, logger)
	return codec, store, org
}

func allTriggers(t *testing.T, store storage.Store, orgID int64) []*models.Trigger {
	found, err := store.FindTriggers(context.Background(), storage.TriggerFilter{OrgID: orgID})
	require.NoError(t, err)
	return found
}

func TestExport(t *testing.T) {
	codec, _, org := setup(t)
	channel := org.AddChannel(t, "sms")
	tr := org.Create(t, org.Trigger(models.TriggerTypeKeyword).WithKeyword("join").WithGroups(org.Bravo, org.Alpha).WithChannel(channel.ID))

	doc, err := codec.Export(context.Background(), org.Reload(t, tr))
	require.NoError(t, err)

	assert.Equal(t, models.TriggerTypeKeyword, doc.TriggerType)
	assert.Equal(t, "join", doc.Keyword)
	assert.Equal(t, FlowRef{ID: org.Workflow.ID, Name: "Registration"}, doc.Flow)
	assert.Equal(t, []GroupRef{{ID: org.Alpha.ID, Name: "Alpha"}, {ID: org.Bravo.ID, Name: "Bravo"}}, doc.Groups)
	require.NotNil(t, doc.Channel)
	assert.Equal(t, channel.ID, *doc.Channel)
}

func TestExportAll(t *testing.T) {
	codec, _, org := setup(t)
	org.Create(t, org.Trigger(models.TriggerTypeKeyword).WithKeyword("join"))
	org.Create(t, org.Trigger(models.TriggerTypeMissedCall))
	org.Create(t, org.Trigger(models.TriggerTypeCatchAll).WithArchived(true))

	doc, err := codec.ExportAll(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Equal(t, site, doc.Site)
	require.Len(t, doc.Triggers, 2)
	assert.Equal(t, models.TriggerTypeKeyword, doc.Triggers[0].TriggerType)
	assert.Equal(t, models.TriggerTypeMissedCall, doc.Triggers[1].TriggerType)
	assert.Nil(t, doc.Triggers[1].Channel)
	assert.Empty(t, doc.Triggers[1].Groups)
}

func TestImportAll_RoundTripUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	codec, store, org := setup(t)
	tr := org.Create(t, org.Trigger(models.TriggerTypeKeyword).WithKeyword("join").WithGroups(org.Alpha))

	doc, err := codec.ExportAll(ctx, org.ID)
	require.NoError(t, err)

	require.NoError(t, store.SetArchived(ctx, []int64{tr.ID}, true))
	doc.Triggers[0].Groups[0].Name = "Renamed"

	require.NoError(t, codec.ImportAll(ctx, doc, org.ID, "importer", site))

	triggers := allTriggers(t, store, org.ID)
	require.Len(t, triggers, 1)
	assert.Equal(t, tr.ID, triggers[0].ID)
	assert.False(t, triggers[0].IsArchived)
	assert.Equal(t, "importer", triggers[0].ModifiedBy)

	// the group was matched by id, not recreated under the exported name
	_, err = store.FindGroupByName(ctx, org.ID, "Renamed")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportAll_CreatesTriggerAndGroups(t *testing.T) {
	ctx := context.Background()
	codec, store, org := setup(t)

	inactive := &models.ContactGroup{OrgID: org.ID, Name: "Dormant", IsActive: false}
	require.NoError(t, store.CreateGroup(ctx, inactive))
	channel := int64(77)

	doc := &Document{
		Version: 11,
		Site:    "https://elsewhere.example.org",
		Triggers: []TriggerDocument{{
			TriggerType: models.TriggerTypeKeyword,
			Keyword:     "Register",
			Flow:        FlowRef{ID: org.Workflow.ID, Name: "Registration"},
			Groups: []GroupRef{
				// id points at Bravo but the site differs, so the name decides
				{ID: org.Bravo.ID, Name: "Alpha"},
				{ID: 500, Name: "Dormant"},
				{ID: 501, Name: "Newcomers"},
			},
			Channel: &channel,
		}},
	}
	require.NoError(t, codec.ImportAll(ctx, doc, org.ID, "importer", site))

	triggers := allTriggers(t, store, org.ID)
	require.Len(t, triggers, 1)
	tr := triggers[0]
	assert.Equal(t, "register", tr.Keyword)
	assert.Equal(t, org.Workflow.ID, tr.WorkflowID)
	assert.Equal(t, "importer", tr.CreatedBy)
	require.NotNil(t, tr.ChannelID)
	assert.Equal(t, channel, *tr.ChannelID)

	names := make([]string, len(tr.Groups))
	for i, g := range tr.Groups {
		names[i] = g.Name
		assert.True(t, g.IsActive, "group %s", g.Name)
	}
	assert.Equal(t, []string{"Alpha", "Dormant", "Newcomers"}, names)
	assert.Equal(t, org.Alpha.ID, tr.Groups[0].ID)
	assert.Equal(t, inactive.ID, tr.Groups[1].ID)
}

func TestImportAll_DisplacesConflictingTriggers(t *testing.T) {
	ctx := context.Background()
	codec, store, org := setup(t)
	other := org.AddWorkflow(t, "Other")

	oldKeyword := org.Create(t, testutil.NewTriggerBuilder(org.ID, other.ID, models.TriggerTypeKeyword).WithKeyword("join").WithGroups(org.Bravo))
	oldMissed := org.Create(t, org.Trigger(models.TriggerTypeMissedCall).WithGroups(org.Bravo))

	doc := &Document{
		Version: 11,
		Triggers: []TriggerDocument{
			{TriggerType: models.TriggerTypeKeyword, Keyword: "join", Flow: FlowRef{ID: org.Workflow.ID}},
			{TriggerType: models.TriggerTypeMissedCall, Flow: FlowRef{ID: org.Workflow.ID}, Groups: []GroupRef{{Name: "Alpha"}}},
		},
	}
	require.NoError(t, codec.ImportAll(ctx, doc, org.ID, "importer", ""))

	// the keyword entry found the existing join trigger and repointed it
	assert.False(t, org.Reload(t, oldKeyword).IsArchived)
	assert.Equal(t, org.Workflow.ID, org.Reload(t, oldKeyword).WorkflowID)

	// the missed-call entry did not overlap Bravo, so it created a new trigger
	assert.True(t, org.Reload(t, oldMissed).IsArchived)
	missed, err := store.FindTriggers(ctx, storage.TriggerFilter{OrgID: org.ID, Type: models.TriggerTypeMissedCall, Archived: storage.Bool(false)})
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.Equal(t, org.Alpha.ID, missed[0].Groups[0].ID)
}

func TestImportAll_UnsupportedVersion(t *testing.T) {
	codec, store, org := setup(t)

	doc := &Document{
		Version:  2,
		Triggers: []TriggerDocument{{TriggerType: models.TriggerTypeKeyword, Keyword: "join", Flow: FlowRef{ID: org.Workflow.ID}}},
	}
	err := codec.ImportAll(context.Background(), doc, org.ID, "importer", "")
	require.Error(t, err)
	assert.True(t, errors.IsUnsupportedVersion(err))
	assert.Contains(t, err.Error(), "unknown version (2)")
	assert.Empty(t, allTriggers(t, store, org.ID))
}

func TestImportAll_MissingFlowAbortsEverything(t *testing.T) {
	codec, store, org := setup(t)

	doc := &Document{
		Version: 11,
		Triggers: []TriggerDocument{
			{TriggerType: models.TriggerTypeKeyword, Keyword: "join", Flow: FlowRef{ID: org.Workflow.ID}, Groups: []GroupRef{{Name: "Fresh"}}},
			{TriggerType: models.TriggerTypeKeyword, Keyword: "leave", Flow: FlowRef{ID: 4040}},
		},
	}
	err := codec.ImportAll(context.Background(), doc, org.ID, "importer", "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 1, appErr.Context["entry"])
	assert.Equal(t, int64(4040), appErr.Context["flow_id"])

	assert.Empty(t, allTriggers(t, store, org.ID))
	_, err = store.FindGroupByName(context.Background(), org.ID, "Fresh")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportAll_InvalidDocument(t *testing.T) {
	codec, store, org := setup(t)

	tests := []struct {
		name  string
		doc   *Document
		field string
	}{
		{"nil document", nil, ""},
		{
			"unknown trigger type",
			&Document{Version: 11, Triggers: []TriggerDocument{
				{TriggerType: models.TriggerTypeKeyword, Keyword: "join", Flow: FlowRef{ID: org.Workflow.ID}},
				{TriggerType: "X", Flow: FlowRef{ID: org.Workflow.ID}},
			}},
			"triggers[1].trigger_type",
		},
		{
			"multi-word keyword",
			&Document{Version: 11, Triggers: []TriggerDocument{
				{TriggerType: models.TriggerTypeKeyword, Keyword: "join now", Flow: FlowRef{ID: org.Workflow.ID}},
			}},
			"triggers[0].keyword",
		},
		{
			"keyword trigger without keyword",
			&Document{Version: 11, Triggers: []TriggerDocument{
				{TriggerType: models.TriggerTypeKeyword, Flow: FlowRef{ID: org.Workflow.ID}},
			}},
			"triggers[0].keyword",
		},
		{
			"keyword on a catch-all trigger",
			&Document{Version: 11, Triggers: []TriggerDocument{
				{TriggerType: models.TriggerTypeCatchAll, Keyword: "join", Flow: FlowRef{ID: org.Workflow.ID}},
			}},
			"triggers[0].keyword",
		},
		{
			"group without name",
			&Document{Version: 11, Triggers: []TriggerDocument{
				{TriggerType: models.TriggerTypeCatchAll, Flow: FlowRef{ID: org.Workflow.ID}, Groups: []GroupRef{{ID: 3}}},
			}},
			"triggers[0].groups[0].name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := codec.ImportAll(context.Background(), tt.doc, org.ID, "importer", "")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			if tt.field != "" {
				assert.Contains(t, err.Error(), tt.field)
			}
			assert.Empty(t, allTriggers(t, store, org.ID))
		})
	}
}

func TestDecodeEncode(t *testing.T) {
	input := `{
		"version": 11,
		"site": "https://flows.example.org",
		"triggers": [
			{"trigger_type": "K", "keyword": "join", "flow": {"id": 4, "name": "Registration"},
			 "groups": [{"id": 2, "name": "Alpha"}], "channel": null},
			{"trigger_type": "M", "keyword": null, "flow": {"id": 5, "name": "Callback"}, "groups": []}
		]
	}`

	doc, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 11, doc.Version)
	require.Len(t, doc.Triggers, 2)
	assert.Equal(t, models.TriggerTypeKeyword, doc.Triggers[0].TriggerType)
	assert.Nil(t, doc.Triggers[0].Channel)
	assert.Equal(t, "", doc.Triggers[1].Keyword)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	assert.Contains(t, buf.String(), `"trigger_type": "M"`)

	_, err = Decode(strings.NewReader("{not json"))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
