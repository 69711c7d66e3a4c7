// Package profile keeps the list of roles the user delegated to before.
// A profile holds no secret material.
package profile

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/dnitsch/awsome-broker/internal/credentialexchange"
)

var (
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrProfileNotFound = errors.New("profile not found")
)

type Profile struct {
	Name      string `ini:"name" json:"name"`
	AccountId string `ini:"account-id" json:"accountId"`
	Role      string `ini:"role" json:"role"`
	Region    string `ini:"region" json:"region,omitempty"`
}

// Store persists the profile list
type Store interface {
	Load() ([]Profile, error)
	Save(profiles []Profile) error
	// Update runs fn on the stored list under a single lock and saves the
	// result when fn reports a change.
	Update(fn func([]Profile) ([]Profile, bool)) error
}

var accountIdRe = regexp.MustCompile(`^\d{12}$`)

func (p Profile) Validate() error {
	if !accountIdRe.MatchString(p.AccountId) {
		return fmt.Errorf("account id %q must be 12 digits, %w", p.AccountId, ErrInvalidProfile)
	}
	if p.Role == "" {
		return fmt.Errorf("role name is required, %w", ErrInvalidProfile)
	}
	return nil
}

func (p Profile) RoleArn() string {
	return credentialexchange.RoleArn(p.AccountId, p.Role)
}

// Label is the display name, role@account when none was given
func (p Profile) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return credentialexchange.SessionLabel(p.AccountId, p.Role)
}

// Target builds the delegation target, using defaultRegion when the profile
// has none.
func (p Profile) Target(defaultRegion string) credentialexchange.DelegationTarget {
	region := p.Region
	if region == "" {
		region = defaultRegion
	}
	return credentialexchange.DelegationTarget{
		RoleArn:      p.RoleArn(),
		SessionLabel: p.Label(),
		Region:       region,
	}
}

// Add appends p unless a profile for the same account and role exists.
// The bool reports whether the list changed.
func Add(profiles []Profile, p Profile) ([]Profile, bool) {
	for _, existing := range profiles {
		if existing.AccountId == p.AccountId && existing.Role == p.Role {
			return profiles, false
		}
	}
	out := make([]Profile, 0, len(profiles)+1)
	out = append(out, profiles...)
	return append(out, p), true
}

// Remove drops every profile for accountId
func Remove(profiles []Profile, accountId string) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.AccountId != accountId {
			out = append(out, p)
		}
	}
	return out
}

// Find looks a profile up by its label
func Find(profiles []Profile, name string) (Profile, error) {
	for _, p := range profiles {
		if p.Label() == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%s, %w", name, ErrProfileNotFound)
}

// Resolve returns the saved profile called name, or p validated when no
// name is given.
func Resolve(store Store, name string, p Profile) (Profile, error) {
	if name != "" && p.AccountId == "" {
		profiles, err := store.Load()
		if err != nil {
			return Profile{}, err
		}
		return Find(profiles, name)
	}
	if name != "" && p.Name == "" {
		p.Name = name
	}
	return p, p.Validate()
}

// Remember adds p to the stored list, reporting whether it was new
func Remember(store Store, p Profile) (bool, error) {
	added := false
	err := store.Update(func(profiles []Profile) ([]Profile, bool) {
		profiles, added = Add(profiles, p)
		return profiles, added
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Forget removes every profile for accountId, reporting how many were dropped
func Forget(store Store, accountId string) (int, error) {
	removed := 0
	err := store.Update(func(profiles []Profile) ([]Profile, bool) {
		kept := Remove(profiles, accountId)
		removed = len(profiles) - len(kept)
		return kept, removed > 0
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
