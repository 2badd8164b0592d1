package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"golang.org/x/text/language"

	domain "github.com/masar-academy/api/internal/domain"
)

// Roles carried in the "role" custom claim, lowest privilege first.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

var rolePrecedence = []string{RoleAdmin, RoleStaff, RoleUser}

// Identity is the signed-in caller behind a verified Firebase ID token.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	Roles         []string
	// Locale is a BCP 47 tag, empty when the token carries none or an unparseable one.
	Locale   string
	Provider string
	AuthTime time.Time
}

func newIdentity(token *firebaseauth.Token, roleClaim string) *Identity {
	identity := &Identity{
		UID:      token.UID,
		Email:    claimAsString(token.Claims, "email"),
		Name:     claimAsString(token.Claims, "name"),
		Locale:   localeFromClaim(claimAsString(token.Claims, defaultLocaleClaim)),
		Provider: token.Firebase.SignInProvider,
		Roles:    rolesFromClaims(token.Claims, roleClaim),
	}
	if verified, ok := token.Claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	if token.AuthTime > 0 {
		identity.AuthTime = time.Unix(token.AuthTime, 0).UTC()
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleUser}
	}
	return identity
}

func localeFromClaim(raw string) string {
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	return tag.String()
}

// HasRole reports whether the identity holds role. Comparison ignores case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// HasAnyRole reports whether the identity holds at least one of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// PrimaryRole is the most privileged role held, or RoleUser.
func (i *Identity) PrimaryRole() string {
	for _, role := range rolePrecedence {
		if i.HasRole(role) {
			return role
		}
	}
	return RoleUser
}

// Actor maps the identity onto the service actor model. Staff act as administrators.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	if i.PrimaryRole() == RoleUser {
		return domain.Actor{ID: i.UID, Type: domain.ActorTypeUser}
	}
	return domain.Actor{ID: i.UID, Type: domain.ActorTypeAdmin}
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
