package roles

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// PermissionLister supplies the granted permission names of every role.
type PermissionLister interface {
	GrantedByRole(ctx context.Context) (map[string][]string, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLocale sets the default locale used for display names and sorting.
func WithLocale(tag language.Tag) Option {
	return func(r *Registry) { r.locale = tag }
}

// WithPermissionLister attaches granted permission lists to listed roles.
func WithPermissionLister(l PermissionLister) Option {
	return func(r *Registry) { r.permissions = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry merges enum and dynamic roles.
type Registry struct {
	store       *Store
	locale      language.Tag
	permissions PermissionLister
	now         func() time.Time

	mu       sync.RWMutex
	metadata MetadataTable
}

// NewRegistry creates a registry over the dynamic_roles table.
func NewRegistry(db *sql.DB, opts ...Option) *Registry {
	r := &Registry{
		store:    NewStore(db),
		locale:   language.English,
		now:      time.Now,
		metadata: DefaultMetadata(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying dynamic role store.
func (r *Registry) Store() *Store {
	return r.store
}

// Locale returns the registry's default locale.
func (r *Registry) Locale() language.Tag {
	return r.locale
}

// AttachPermissions sets the lister used to fill Role.Permissions. It must be
// called before the registry is shared.
func (r *Registry) AttachPermissions(l PermissionLister) {
	r.permissions = l
}

// SetMetadata replaces the enum metadata table.
func (r *Registry) SetMetadata(t MetadataTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = t
}

func (r *Registry) table() MetadataTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// ListRoles returns all enum roles and the active dynamic roles in the
// registry's locale.
func (r *Registry) ListRoles(ctx context.Context) ([]Role, error) {
	return r.ListRolesIn(ctx, r.locale)
}

// ListRolesIn returns all enum roles and the active dynamic roles, one entry
// per code, sorted by category then display name collated for tag.
func (r *Registry) ListRolesIn(ctx context.Context, tag language.Tag) ([]Role, error) {
	records, err := r.store.List(ctx, true)
	if err != nil {
		return nil, err
	}

	list := normalize(r.table(), records, tag)

	if r.permissions != nil {
		granted, err := r.permissions.GrantedByRole(ctx)
		if err != nil {
			return nil, err
		}
		for i := range list {
			list[i].Permissions = granted[list[i].Code]
		}
	}

	sortRoles(list, tag)
	return list, nil
}

// normalize merges enum roles with dynamic rows. Every enum role is present;
// a row carrying an enum code is folded into that enum role.
func normalize(table MetadataTable, records []*DynamicRecord, tag language.Tag) []Role {
	list := make([]Role, 0, len(enumCodes)+len(records))
	index := make(map[string]int, len(enumCodes)+len(records))

	for _, code := range enumCodes {
		index[code] = len(list)
		list = append(list, table.enumRole(code, tag))
	}

	for _, rec := range records {
		if i, ok := index[rec.Code]; ok {
			if list[i].IsEnum() {
				list[i] = mergeRecord(list[i], rec)
			}
			continue
		}
		index[rec.Code] = len(list)
		list = append(list, dynamicRole(rec))
	}
	return list
}

func dynamicRole(rec *DynamicRecord) Role {
	id := rec.ID
	return Role{
		Kind:        KindDynamic,
		Code:        rec.Code,
		ID:          &id,
		Name:        rec.Name,
		Description: rec.Description,
		Category:    rec.Category,
		Active:      rec.Active,
	}
}

// mergeRecord overlays an active dynamic row on an enum role. The role keeps
// its enum identity, category and classification.
func mergeRecord(role Role, rec *DynamicRecord) Role {
	id := rec.ID
	role.ID = &id
	if !rec.Active {
		return role
	}
	if rec.Name != "" {
		role.Name = rec.Name
	}
	if rec.Description != "" {
		role.Description = rec.Description
	}
	return role
}

func sortRoles(list []Role, tag language.Tag) {
	c := collate.New(tag, collate.IgnoreCase)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Category != list[j].Category {
			return list[i].Category < list[j].Category
		}
		if cmp := c.CompareString(list[i].Name, list[j].Name); cmp != 0 {
			return cmp < 0
		}
		return list[i].Code < list[j].Code
	})
}

// Lookup returns the normalized role for code, active or not.
func (r *Registry) Lookup(ctx context.Context, code string) (*Role, error) {
	rec, err := r.store.GetByCode(ctx, code)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}

	if IsEnumCode(code) {
		role := r.table().enumRole(code, r.locale)
		if rec != nil {
			role = mergeRecord(role, rec)
		}
		return &role, nil
	}
	if rec == nil {
		return nil, err
	}
	role := dynamicRole(rec)
	return &role, nil
}

// Exists reports whether code names an enum role or any dynamic role.
func (r *Registry) Exists(ctx context.Context, code string) (bool, error) {
	if IsEnumCode(code) {
		return true, nil
	}
	if _, err := r.store.GetByCode(ctx, code); err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Resolvable reports whether role's grants apply to its holders.
func (r *Registry) Resolvable(role *Role) bool {
	return role != nil && role.Resolvable()
}

// CreateDynamicRole inserts a new dynamic role. The role stays inactive until
// published. A code equal to an enum code creates a row merged with that enum role.
func (r *Registry) CreateDynamicRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	code := strings.TrimSpace(in.Code)

	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if code == "" {
		return nil, apperr.Validation("code", "is required")
	}
	if !ValidCode(code) {
		return nil, apperr.Validation("code", "must be lowercase letters, digits or underscores, starting with a letter")
	}

	now := r.now().UTC()
	rec := &DynamicRecord{
		ID:          uuid.New(),
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.CreatedBy != uuid.Nil {
		rec.CreatedBy = uuid.NullUUID{UUID: in.CreatedBy, Valid: true}
	}

	if err := r.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return r.roleFor(rec), nil
}

// UpdateDynamicRole changes the name, description or category of a dynamic role.
// ref is a role id or a dynamic role code.
func (r *Registry) UpdateDynamicRole(ctx context.Context, ref string, in UpdateRoleInput) (*Role, error) {
	rec, err := r.findRecord(ctx, ref)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("name", "is required")
		}
		rec.Name = name
	}
	if in.Description != nil {
		rec.Description = strings.TrimSpace(*in.Description)
	}
	if in.Category != nil {
		rec.Category = strings.TrimSpace(*in.Category)
	}
	rec.UpdatedAt = r.now().UTC()

	if err := r.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	return r.roleFor(rec), nil
}

// PublishDynamicRole activates a dynamic role.
func (r *Registry) PublishDynamicRole(ctx context.Context, ref string) (*Role, error) {
	rec, err := r.findRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = r.now().UTC()
	if err := r.store.SetActive(ctx, rec.ID, true, rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Active = true
	return r.roleFor(rec), nil
}

// DeactivateDynamicRole soft-deletes a dynamic role. Its grant rows are kept.
// Enum roles, including dynamic rows merged with one, cannot be deactivated.
func (r *Registry) DeactivateDynamicRole(ctx context.Context, ref string) (*Role, error) {
	if IsEnumCode(ref) {
		return nil, apperr.Forbidden("role %s is a built-in role and cannot be deactivated", ref)
	}

	rec, err := r.findRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	if IsEnumCode(rec.Code) {
		return nil, apperr.Forbidden("role %s is a built-in role and cannot be deactivated", rec.Code)
	}

	rec.UpdatedAt = r.now().UTC()
	if err := r.store.SetActive(ctx, rec.ID, false, rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Active = false
	return r.roleFor(rec), nil
}

// findRecord accepts a dynamic role id or code.
func (r *Registry) findRecord(ctx context.Context, ref string) (*DynamicRecord, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.Validation("id", "is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return r.store.Get(ctx, id)
	}
	return r.store.GetByCode(ctx, ref)
}

func (r *Registry) roleFor(rec *DynamicRecord) *Role {
	var role Role
	if IsEnumCode(rec.Code) {
		role = mergeRecord(r.table().enumRole(rec.Code, r.locale), rec)
	} else {
		role = dynamicRole(rec)
	}
	return &role
}
