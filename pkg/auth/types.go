package auth

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// Methods by which a caller was identified.
const (
	MethodOIDC   = "oidc"
	MethodHeader = "header"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// AuthContext holds the identity of the caller.
type AuthContext struct {
	UserID uuid.UUID
	Email  string
	Method string
}

// Verifier extracts the caller identity from a request.
type Verifier interface {
	Verify(r *http.Request) (*AuthContext, error)
}
