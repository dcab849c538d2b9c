package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/models"
)

func toolSpec(name, desc string, params map[string]any) core.ToolSpec {
	return core.ToolSpec{Name: name, Description: desc, Parameters: params}
}

// Narrow store views so handlers depend only on what they touch.

type PersonaStore interface {
	ListPersonasByBusiness(ctx context.Context, businessID string) ([]models.Persona, error)
	GetPersonaByName(ctx context.Context, businessID, name string) (*models.Persona, error)
}

type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpdateUserProfile(ctx context.Context, profile *models.UserProfile) error
}

type ProductStore interface {
	ListProductsByBusiness(ctx context.Context, businessID string) ([]models.Product, error)
}

// Builtins wires the standard assistant tools against their collaborator
// stores for one business.
type Builtins struct {
	Personas   PersonaStore
	Profiles   ProfileStore
	Products   ProductStore
	BusinessID string
}

const (
	ToolGetPersonas   = "get_personas"
	ToolSwitchPersona = "switch_persona"
	ToolGetProfile    = "get_profile"
	ToolUpdateProfile = "update_profile"
	ToolListProducts  = "list_products"
)

// RegisterBuiltins declares the standard tools on the registry.
func RegisterBuiltins(r *Registry, b Builtins) error {
	entries := []struct {
		spec    func() (string, string, map[string]any)
		handler Handler
	}{
		{b.getPersonasSpec, b.getPersonas},
		{b.switchPersonaSpec, b.switchPersona},
		{b.getProfileSpec, b.getProfile},
		{b.updateProfileSpec, b.updateProfile},
		{b.listProductsSpec, b.listProducts},
	}
	for _, e := range entries {
		name, desc, params := e.spec()
		if err := r.Register(toolSpec(name, desc, params), e.handler); err != nil {
			return err
		}
	}
	return nil
}

func (b Builtins) getPersonasSpec() (string, string, map[string]any) {
	return ToolGetPersonas, "List the assistant personas the user can switch to.", objectSchema(nil, nil)
}

func (b Builtins) getPersonas(ctx context.Context, _ map[string]any) Result {
	personas, err := b.Personas.ListPersonasByBusiness(ctx, b.BusinessID)
	if err != nil {
		return Result{Success: false, Message: "could not load personas"}
	}
	names := make([]map[string]string, 0, len(personas))
	for _, p := range personas {
		names = append(names, map[string]string{"name": p.Name, "description": p.Description})
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("%d personas available", len(names)),
		Data:    names,
	}
}

func (b Builtins) switchPersonaSpec() (string, string, map[string]any) {
	return ToolSwitchPersona, "Switch the active assistant persona for this user.",
		objectSchema(map[string]any{
			"persona": map[string]any{"type": "string", "description": "Name of the persona to activate."},
		}, []string{"persona"})
}

func (b Builtins) switchPersona(ctx context.Context, args map[string]any) Result {
	name := stringArg(args, "persona")
	if name == "" {
		return Result{Success: false, Message: "persona name is required"}
	}
	persona, err := b.Personas.GetPersonaByName(ctx, b.BusinessID, name)
	if err != nil {
		return Result{Success: false, Message: "could not look up persona"}
	}
	if persona == nil {
		return Result{Success: false, Message: fmt.Sprintf("no persona named %q", name)}
	}

	userID := UserIDFrom(ctx)
	if userID == "" {
		return Result{Success: false, Message: "no user in scope"}
	}
	profile, err := b.Profiles.GetUserProfile(ctx, userID)
	if err != nil {
		return Result{Success: false, Message: "could not load profile"}
	}
	if profile == nil {
		profile = &models.UserProfile{UserID: userID}
	}
	profile.ActivePersonaID = persona.ID
	profile.UpdatedAt = time.Now()
	if err := b.Profiles.UpdateUserProfile(ctx, profile); err != nil {
		return Result{Success: false, Message: "could not save persona selection"}
	}
	return Result{Success: true, Message: fmt.Sprintf("switched to persona %s", persona.Name)}
}

func (b Builtins) getProfileSpec() (string, string, map[string]any) {
	return ToolGetProfile, "Fetch the current user's profile.", objectSchema(nil, nil)
}

func (b Builtins) getProfile(ctx context.Context, _ map[string]any) Result {
	userID := UserIDFrom(ctx)
	if userID == "" {
		return Result{Success: false, Message: "no user in scope"}
	}
	profile, err := b.Profiles.GetUserProfile(ctx, userID)
	if err != nil {
		return Result{Success: false, Message: "could not load profile"}
	}
	if profile == nil {
		return Result{Success: false, Message: "no profile on record"}
	}
	return Result{Success: true, Message: "profile loaded", Data: profile}
}

func (b Builtins) updateProfileSpec() (string, string, map[string]any) {
	return ToolUpdateProfile, "Update fields on the current user's profile.",
		objectSchema(map[string]any{
			"display_name": map[string]any{"type": "string"},
			"email":        map[string]any{"type": "string"},
			"phone":        map[string]any{"type": "string"},
		}, nil)
}

// updateProfile applies only recognized fields. A call carrying none of
// them is a no-op failure: nothing is written.
func (b Builtins) updateProfile(ctx context.Context, args map[string]any) Result {
	userID := UserIDFrom(ctx)
	if userID == "" {
		return Result{Success: false, Message: "no user in scope"}
	}

	displayName := stringArg(args, "display_name")
	email := stringArg(args, "email")
	phone := stringArg(args, "phone")
	if displayName == "" && email == "" && phone == "" {
		return Result{Success: false, Message: "no recognized profile fields in request"}
	}

	profile, err := b.Profiles.GetUserProfile(ctx, userID)
	if err != nil {
		return Result{Success: false, Message: "could not load profile"}
	}
	if profile == nil {
		profile = &models.UserProfile{UserID: userID}
	}
	if displayName != "" {
		profile.DisplayName = displayName
	}
	if email != "" {
		profile.Email = email
	}
	if phone != "" {
		profile.Phone = phone
	}
	profile.UpdatedAt = time.Now()
	if err := b.Profiles.UpdateUserProfile(ctx, profile); err != nil {
		return Result{Success: false, Message: "could not save profile"}
	}
	return Result{Success: true, Message: "profile updated"}
}

func (b Builtins) listProductsSpec() (string, string, map[string]any) {
	return ToolListProducts, "List the business's available products.", objectSchema(nil, nil)
}

func (b Builtins) listProducts(ctx context.Context, _ map[string]any) Result {
	products, err := b.Products.ListProductsByBusiness(ctx, b.BusinessID)
	if err != nil {
		return Result{Success: false, Message: "could not load products"}
	}
	out := make([]map[string]string, 0, len(products))
	for _, p := range products {
		if p.Disabled {
			continue
		}
		out = append(out, map[string]string{"name": p.Name, "description": p.Description})
	}
	return Result{Success: true, Message: fmt.Sprintf("%d products", len(out)), Data: out}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func objectSchema(props map[string]any, required []string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
