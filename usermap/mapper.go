package usermap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

var (
	// ErrInvalidParameter is returned on invalid constructor arguments.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMissingExternalID is returned when the configured identity claim
	// is absent or empty. The login is rejected rather than creating a
	// record with an empty key.
	ErrMissingExternalID = errors.New("missing external id claim")

	// ErrUserDoesNotExist is returned when no local user exists and the
	// create-missing policy is off.
	ErrUserDoesNotExist = errors.New("user does not exist")

	// ErrUserDeleted is returned when the matched user is soft-deleted
	// and the undelete policy is off.
	ErrUserDeleted = errors.New("user is deleted")

	// ErrUserDisabled is returned when the matched user is disabled and
	// the re-enable policy is off.
	ErrUserDisabled = errors.New("user is disabled")
)

// Policies controls how logins map onto the local user store.
type Policies struct {
	// CreateMissing creates a local user on first login. When false,
	// logins without a matching user fail with ErrUserDoesNotExist.
	CreateMissing bool

	// ReEnable clears the Disabled flag on login. When false, disabled
	// users fail with ErrUserDisabled.
	ReEnable bool

	// Undelete clears the Deleted flag on login. When false,
	// soft-deleted users fail with ErrUserDeleted.
	Undelete bool

	// DefaultGroups are merged into every user's derived group set.
	DefaultGroups []string

	// ExternalIDClaim names the claim holding the stable identity key.
	// Defaults to "sub".
	ExternalIDClaim string

	// RolesClaim names the claim holding provider role names, which
	// become the user's groups. Empty disables role-derived groups.
	RolesClaim string
}

// Attributes are the profile fields a login may update.
type Attributes struct {
	Name   string
	Email  string
	Locale string
}

// AttributeMapperFunc derives profile attributes from a claim set.
type AttributeMapperFunc func(Claims) Attributes

// DefaultAttributeMapper reads the standard profile claims, preferring
// "name" and falling back to "preferred_username".
func DefaultAttributeMapper(c Claims) Attributes {
	var a Attributes
	if v, ok := c.String("name"); ok {
		a.Name = v
	} else if v, ok := c.String("preferred_username"); ok {
		a.Name = v
	}
	a.Email, _ = c.String("email")
	a.Locale, _ = c.String("locale")
	return a
}

// Mapper resolves a validated claim set to a local user on every login,
// applying the configured create/update/group-sync policies.
type Mapper struct {
	store    Store
	policies Policies
	mapAttrs AttributeMapperFunc
	logger   hclog.Logger

	// for testing
	now func() time.Time
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper)

// WithAttributeMapper replaces the default profile attribute derivation.
func WithAttributeMapper(fn AttributeMapperFunc) MapperOption {
	return func(m *Mapper) {
		if fn != nil {
			m.mapAttrs = fn
		}
	}
}

// WithMapperLogger sets the logger used for mapping diagnostics.
func WithMapperLogger(l hclog.Logger) MapperOption {
	return func(m *Mapper) {
		if l != nil {
			m.logger = l
		}
	}
}

func withNow(fn func() time.Time) MapperOption {
	return func(m *Mapper) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMapper creates a Mapper over the given store.
func NewMapper(store Store, p Policies, opt ...MapperOption) (*Mapper, error) {
	const op = "usermap.NewMapper"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrInvalidParameter)
	}
	if p.ExternalIDClaim == "" {
		p.ExternalIDClaim = "sub"
	}
	m := &Mapper{
		store:    store,
		policies: p,
		mapAttrs: DefaultAttributeMapper,
		logger:   hclog.NewNullLogger(),
		now:      time.Now,
	}
	for _, o := range opt {
		o(m)
	}
	return m, nil
}

// groups derives the user's full group set for this login: the roles
// claim plus the default groups, normalized. The result replaces the
// stored membership outright, so revoked provider roles disappear.
func (m *Mapper) groups(claims Claims) []string {
	var roles []string
	if m.policies.RolesClaim != "" {
		roles, _ = claims.StringSlice(m.policies.RolesClaim)
	}
	return normalizeGroups(append(roles, m.policies.DefaultGroups...))
}

// Login maps the claim set to a local user, creating or updating per the
// configured policies. It returns the persisted user, or an error when
// the identity key is missing or a policy rejects the login. Attributes
// and groups are only written when they actually changed.
func (m *Mapper) Login(ctx context.Context, claims Claims) (*User, error) {
	const op = "usermap.(Mapper).Login"
	if claims == nil {
		return nil, fmt.Errorf("%s: claims are nil: %w", op, ErrInvalidParameter)
	}
	externalID, ok := claims.String(m.policies.ExternalIDClaim)
	if !ok || externalID == "" {
		m.logger.Warn("login rejected: identity claim absent or empty", "claim", m.policies.ExternalIDClaim)
		return nil, fmt.Errorf("%s: claim %q: %w", op, m.policies.ExternalIDClaim, ErrMissingExternalID)
	}

	attrs := m.mapAttrs(claims)
	groups := m.groups(claims)

	existing, err := m.store.GetByExternalID(ctx, externalID)
	switch {
	case errors.Is(err, ErrNotFound):
		if !m.policies.CreateMissing {
			return nil, fmt.Errorf("%s: external id %q: %w", op, externalID, ErrUserDoesNotExist)
		}
		now := m.now()
		created, err := m.store.Create(ctx, &User{
			ExternalID: externalID,
			Name:       attrs.Name,
			Email:      attrs.Email,
			Locale:     attrs.Locale,
			Groups:     groups,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: creating user: %w", op, err)
		}
		m.logger.Info("created user on first login", "externalId", externalID, "userId", created.ID)
		return created, nil
	case err != nil:
		return nil, fmt.Errorf("%s: looking up user: %w", op, err)
	}

	if existing.Deleted && !m.policies.Undelete {
		return nil, fmt.Errorf("%s: external id %q: %w", op, externalID, ErrUserDeleted)
	}
	if existing.Disabled && !m.policies.ReEnable {
		return nil, fmt.Errorf("%s: external id %q: %w", op, externalID, ErrUserDisabled)
	}

	candidate := existing.Clone()
	candidate.Name = attrs.Name
	candidate.Email = attrs.Email
	candidate.Locale = attrs.Locale
	candidate.Groups = groups
	candidate.Deleted = false
	candidate.Disabled = false

	if existing.sameAttributes(candidate) {
		return existing, nil
	}
	candidate.UpdatedAt = m.now()
	if err := m.store.Update(ctx, candidate); err != nil {
		return nil, fmt.Errorf("%s: updating user: %w", op, err)
	}
	m.logger.Debug("updated user on login", "externalId", externalID, "userId", candidate.ID)
	return candidate, nil
}
