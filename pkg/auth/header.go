package auth

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// HeaderVerifier trusts a user UUID set by an upstream gateway.
type HeaderVerifier struct {
	header string
}

// NewHeaderVerifier reads identities from header, X-User-ID when empty.
func NewHeaderVerifier(header string) *HeaderVerifier {
	if header == "" {
		header = "X-User-ID"
	}
	return &HeaderVerifier{header: header}
}

func (v *HeaderVerifier) Verify(r *http.Request) (*AuthContext, error) {
	value := r.Header.Get(v.header)
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, v.header)
	}
	userID, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s header", ErrUnauthenticated, v.header)
	}
	return &AuthContext{UserID: userID, Method: MethodHeader}, nil
}
