package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flow-triggers/internal/models"
	"flow-triggers/internal/storage"
)

// OrgFixture is a seeded organization: one startable workflow, two groups
// named "Alpha" and "Bravo", and one contact belonging to no group.
type OrgFixture struct {
	ID       int64
	Workflow *models.Workflow
	Alpha    *models.ContactGroup
	Bravo    *models.ContactGroup
	Contact  *models.Contact
	store    storage.Store
}

// SeedOrg seeds an organization into s
func SeedOrg(t *testing.T, s storage.Store, orgID int64) *OrgFixture {
	t.Helper()
	o := &OrgFixture{ID: orgID, store: s}
	o.Workflow = o.AddWorkflow(t, "Registration")
	o.Alpha = o.AddGroup(t, "Alpha")
	o.Bravo = o.AddGroup(t, "Bravo")
	o.Contact = o.AddContact(t, "Ann")
	return o
}

// AddWorkflow creates an active workflow
func (o *OrgFixture) AddWorkflow(t *testing.T, name string) *models.Workflow {
	t.Helper()
	w := &models.Workflow{OrgID: o.ID, Name: name, IsActive: true}
	require.NoError(t, o.store.CreateWorkflow(context.Background(), w))
	return w
}

// AddGroup creates an active contact group
func (o *OrgFixture) AddGroup(t *testing.T, name string) *models.ContactGroup {
	t.Helper()
	g := &models.ContactGroup{OrgID: o.ID, Name: name, IsActive: true}
	require.NoError(t, o.store.CreateGroup(context.Background(), g))
	return g
}

// AddContact creates a contact and adds it to groups
func (o *OrgFixture) AddContact(t *testing.T, name string, groups ...*models.ContactGroup) *models.Contact {
	t.Helper()
	ctx := context.Background()
	c := &models.Contact{OrgID: o.ID, Name: name, URN: "tel:+250788" + name}
	require.NoError(t, o.store.CreateContact(ctx, c))
	for _, g := range groups {
		require.NoError(t, o.store.AddContactToGroup(ctx, c.ID, g.ID))
	}
	return c
}

// AddChannel creates an active channel
func (o *OrgFixture) AddChannel(t *testing.T, name string) *models.Channel {
	t.Helper()
	ch := &models.Channel{OrgID: o.ID, Name: name, IsActive: true}
	require.NoError(t, o.store.CreateChannel(context.Background(), ch))
	return ch
}

// Trigger starts a builder for a trigger of typ pointing at the fixture's workflow
func (o *OrgFixture) Trigger(typ models.TriggerType) *TriggerBuilder {
	return NewTriggerBuilder(o.ID, o.Workflow.ID, typ)
}

// Create persists the built trigger
func (o *OrgFixture) Create(t *testing.T, b *TriggerBuilder) *models.Trigger {
	t.Helper()
	tr := b.Build()
	require.NoError(t, o.store.CreateTrigger(context.Background(), tr))
	return tr
}

// Reload fetches the current state of a trigger
func (o *OrgFixture) Reload(t *testing.T, tr *models.Trigger) *models.Trigger {
	t.Helper()
	fresh, err := o.store.GetTrigger(context.Background(), tr.ID)
	require.NoError(t, err)
	return fresh
}
