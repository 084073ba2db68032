package usermap

import (
	"sort"
	"time"
)

// User is the local account a provider identity maps onto. ExternalID is
// the stable identity key from the provider and is unique per store;
// ID is assigned by the store on creation.
type User struct {
	ID         string
	ExternalID string
	Name       string
	Email      string
	Locale     string
	Disabled   bool
	Deleted    bool
	Groups     []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Groups != nil {
		cp.Groups = make([]string, len(u.Groups))
		copy(cp.Groups, u.Groups)
	}
	return &cp
}

// normalizeGroups sorts and dedupes group names, dropping empties, so
// membership comparisons are order-independent.
func normalizeGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func groupsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameAttributes reports whether a login with these attributes would be a
// no-op for u. Timestamps are not part of the comparison.
func (u *User) sameAttributes(other *User) bool {
	return u.Name == other.Name &&
		u.Email == other.Email &&
		u.Locale == other.Locale &&
		u.Disabled == other.Disabled &&
		u.Deleted == other.Deleted &&
		groupsEqual(u.Groups, other.Groups)
}
