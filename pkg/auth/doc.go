// Package auth identifies the caller of an admin request.
//
// Two verifiers are provided. OIDCVerifier checks bearer ID tokens issued by
// the identity provider; the token subject is the user UUID and is trusted
// as-is. HeaderVerifier reads the user UUID from a header set by an
// authenticating gateway.
//
//	verifier, err := auth.NewOIDCVerifier(ctx, "https://id.example.org", "curator")
//	authCtx, err := verifier.Verify(r)
//	fmt.Println(authCtx.UserID)
//
// What the caller may do is decided by the permission resolver, never by
// claims in the token.
package auth
