// Package roles implements the role registry: the fixed set of enum roles,
// the editable table of dynamic roles, and the single normalization step that
// merges both sources into one list keyed by role code.
//
// Adding an enum role needs a database migration as well as a change to the
// enum table here: row-level security policies in the database reference the
// enum type, so a role created only through CreateDynamicRole is not enforced
// by those policies.
package roles

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Kind tags which source a role comes from.
type Kind string

const (
	KindEnum    Kind = "enum"
	KindDynamic Kind = "dynamic"
)

// Classification groups roles by their relationship to the institution.
type Classification string

const (
	ClassificationInternal     Classification = "internal"
	ClassificationExternal     Classification = "external"
	ClassificationProfessional Classification = "professional"
)

// Enum role codes
const (
	RoleAdmin            = "admin"
	RoleLibrarian        = "librarian"
	RoleArchivist        = "archivist"
	RoleCurator          = "curator"
	RoleConservator      = "conservator"
	RoleReadingRoomStaff = "reading_room_staff"
	RoleResearcher       = "researcher"
	RolePartner          = "partner"
	RoleSubscriber       = "subscriber"
	RoleVisitor          = "visitor"
	RolePublicUser       = "public_user"
)

var enumCodes = []string{
	RoleAdmin,
	RoleLibrarian,
	RoleArchivist,
	RoleCurator,
	RoleConservator,
	RoleReadingRoomStaff,
	RoleResearcher,
	RolePartner,
	RoleSubscriber,
	RoleVisitor,
	RolePublicUser,
}

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,62}$`)

// EnumCodes returns the enum role codes in declaration order.
func EnumCodes() []string {
	out := make([]string, len(enumCodes))
	copy(out, enumCodes)
	return out
}

// IsEnumCode reports whether code names an enum role.
func IsEnumCode(code string) bool {
	for _, c := range enumCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ValidCode reports whether code is an acceptable role code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Role is the normalized view of either an enum role or a dynamic role.
// ID is set for dynamic roles and for enum roles that have a merged dynamic row.
type Role struct {
	Kind           Kind           `json:"kind"`
	Code           string         `json:"code"`
	ID             *uuid.UUID     `json:"id,omitempty"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Color          string         `json:"color,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Active         bool           `json:"active"`
	Permissions    []string       `json:"permissions,omitempty"`
}

// IsEnum reports whether the role is an enum role, merged or not.
func (r Role) IsEnum() bool {
	return r.Kind == KindEnum
}

// Resolvable reports whether users holding this role may receive its grants.
// Enum roles always are; dynamic roles only once published and until deactivated.
func (r Role) Resolvable() bool {
	return r.Kind == KindEnum || r.Active
}

// DynamicRecord is a row of the dynamic_roles table.
type DynamicRecord struct {
	ID          uuid.UUID     `json:"id"`
	Code        string        `json:"role_code"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Active      bool          `json:"is_active"`
	CreatedBy   uuid.NullUUID `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CreateRoleInput carries the fields of a new dynamic role.
type CreateRoleInput struct {
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedBy   uuid.UUID `json:"-"`
}

// UpdateRoleInput carries optional changes to a dynamic role. Nil fields are left as is.
type UpdateRoleInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}
