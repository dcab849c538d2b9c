package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejulabs/corpora/internal/models"
)

type fakePersonaStore struct {
	personas []models.Persona
}

func (f *fakePersonaStore) ListPersonasByBusiness(context.Context, string) ([]models.Persona, error) {
	return f.personas, nil
}

func (f *fakePersonaStore) GetPersonaByName(_ context.Context, _ string, name string) (*models.Persona, error) {
	for _, p := range f.personas {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeProfileStore struct {
	profiles map[string]*models.UserProfile
	writes   int
}

func (f *fakeProfileStore) GetUserProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfileStore) UpdateUserProfile(_ context.Context, p *models.UserProfile) error {
	f.writes++
	cp := *p
	f.profiles[p.UserID] = &cp
	return nil
}

type fakeProductStore struct {
	products []models.Product
}

func (f *fakeProductStore) ListProductsByBusiness(context.Context, string) ([]models.Product, error) {
	return f.products, nil
}

func testBuiltins() (Builtins, *fakeProfileStore) {
	profiles := &fakeProfileStore{profiles: map[string]*models.UserProfile{}}
	b := Builtins{
		Personas: &fakePersonaStore{personas: []models.Persona{
			{ID: "p-1", Name: "concierge", Description: "friendly front desk"},
			{ID: "p-2", Name: "analyst", Description: "terse and numeric"},
		}},
		Profiles: profiles,
		Products: &fakeProductStore{products: []models.Product{
			{Name: "Handbook", Description: "employee handbook"},
			{Name: "Old Catalog", Disabled: true},
		}},
		BusinessID: "biz-1",
	}
	return b, profiles
}

func TestGetPersonas(t *testing.T) {
	b, _ := testBuiltins()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, b))

	res := r.Dispatch(context.Background(), ToolGetPersonas, nil)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "2 personas")
}

func TestSwitchPersona(t *testing.T) {
	b, profiles := testBuiltins()
	ctx := WithUserID(context.Background(), "u-1")

	res := b.switchPersona(ctx, map[string]any{"persona": "analyst"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "p-2", profiles.profiles["u-1"].ActivePersonaID)

	res = b.switchPersona(ctx, map[string]any{"persona": "ghost"})
	assert.False(t, res.Success)

	res = b.switchPersona(ctx, map[string]any{})
	assert.False(t, res.Success)
}

func TestUpdateProfileNoRecognizedFieldsWritesNothing(t *testing.T) {
	b, profiles := testBuiltins()
	ctx := WithUserID(context.Background(), "u-1")

	res := b.updateProfile(ctx, map[string]any{"favorite_color": "teal", "age": 44})
	assert.False(t, res.Success)
	assert.Equal(t, 0, profiles.writes, "no-op failure must not write")
}

func TestUpdateProfileAppliesRecognizedFields(t *testing.T) {
	b, profiles := testBuiltins()
	ctx := WithUserID(context.Background(), "u-1")

	res := b.updateProfile(ctx, map[string]any{"display_name": "Ada", "phone": "555-0100"})
	require.True(t, res.Success, res.Message)
	got := profiles.profiles["u-1"]
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, "555-0100", got.Phone)
	assert.Equal(t, "", got.Email)
}

func TestGetProfileMissing(t *testing.T) {
	b, _ := testBuiltins()
	res := b.getProfile(WithUserID(context.Background(), "nobody"), nil)
	assert.False(t, res.Success)
}

func TestListProductsSkipsDisabled(t *testing.T) {
	b, _ := testBuiltins()
	res := b.listProducts(context.Background(), nil)
	require.True(t, res.Success)
	items, ok := res.Data.([]map[string]string)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Handbook", items[0]["name"])
}
