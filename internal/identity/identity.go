// Package identity adapts the external identity/authorization provider.
// Actors arrive as signed JWTs carrying an id, a display name, and group
// membership; every service call takes the Actor explicitly rather than
// reading ambient state.
package identity

import (
	"context"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	pstrings "custodia/pkg/platform/strings"
)

// Actor is the authenticated identity performing an operation. It feeds the
// approval engine's authorization check and the audit log's actor field.
type Actor struct {
	ID     string
	Name   string
	Groups []string
}

// InGroup reports whether the actor belongs to the named group.
func (a Actor) InGroup(group string) bool {
	return slices.Contains(a.Groups, group)
}

// System is the actor recorded for scheduled background work such as the
// escalation sweep.
var System = Actor{ID: "system", Name: "system"}

type actorKey struct{}

// WithActor stores the authenticated actor in the request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom extracts the actor from context. The boolean is false for
// unauthenticated requests.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// claims are the token claims issued by the identity provider.
type claims struct {
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens from the identity provider.
type Verifier struct {
	signingKey []byte
}

func NewVerifier(signingKey string) *Verifier {
	return &Verifier{signingKey: []byte(signingKey)}
}

// Verify parses and validates a token, returning the actor it represents.
func (v *Verifier) Verify(tokenString string) (Actor, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || c.Subject == "" {
		return Actor{}, fmt.Errorf("token missing subject")
	}
	return Actor{ID: c.Subject, Name: c.Name, Groups: pstrings.DedupeAndTrim(c.Groups)}, nil
}
