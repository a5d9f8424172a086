package auth

import (
	"fmt"
)

// Group gathers users; disabling a group disables authentication of all its users.
type Group struct {
	GID          string                 `json:"gid"`
	Enabled      bool                   `json:"enabled"`
	MoCredential *MoMessagingCredential `json:"mo_credential"`
	MtCredential *MtMessagingCredential `json:"mt_credential"`
}

// NewGroup builds an enabled group with default credentials.
func NewGroup(gid string) (*Group, error) {
	if err := ValidateID("gid", gid); err != nil {
		return nil, err
	}
	return &Group{
		GID:          gid,
		Enabled:      true,
		MoCredential: NewMoMessagingCredential(true),
		MtCredential: NewMtMessagingCredential(true),
	}, nil
}

func (g *Group) String() string { return g.GID }

// User belongs to exactly one group, referenced by GID.
type User struct {
	UID          string                 `json:"uid"`
	GID          string                 `json:"gid"`
	Username     string                 `json:"username"`
	PasswordHash string                 `json:"password_hash"`
	Enabled      bool                   `json:"enabled"`
	MoCredential *MoMessagingCredential `json:"mo_credential"`
	MtCredential *MtMessagingCredential `json:"mt_credential"`
}

// NewUser builds an enabled user. Credentials are copied from the group when it carries some.
func NewUser(uid string, group *Group, username, password string) (*User, error) {
	if err := ValidateID("uid", uid); err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("%w: user %s has no group", ErrInvalidParam, uid)
	}
	if !usernameRegex.MatchString(username) {
		return nil, fmt.Errorf("%w: username %q syntax is invalid", ErrInvalidParam, username)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		UID:          uid,
		GID:          group.GID,
		Username:     username,
		PasswordHash: hash,
		Enabled:      true,
	}
	if group.MoCredential != nil {
		u.MoCredential = group.MoCredential.Clone()
	} else {
		u.MoCredential = NewMoMessagingCredential(true)
	}
	if group.MtCredential != nil {
		u.MtCredential = group.MtCredential.Clone()
	} else {
		u.MtCredential = NewMtMessagingCredential(true)
	}
	return u, nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.PasswordHash)
}

// Authenticate reports whether password matches and the user is enabled.
// Group state is checked by the caller owning the group registry.
func (u *User) Authenticate(password string) bool {
	return u.Enabled && u.CheckPassword(password)
}

func (u *User) String() string { return u.Username }

// Clone returns a deep copy, used to hand out snapshots outside the registry lock.
func (u *User) Clone() *User {
	cp := *u
	if u.MoCredential != nil {
		cp.MoCredential = u.MoCredential.Clone()
	}
	if u.MtCredential != nil {
		cp.MtCredential = u.MtCredential.Clone()
	}
	return &cp
}

func (g *Group) Clone() *Group {
	cp := *g
	if g.MoCredential != nil {
		cp.MoCredential = g.MoCredential.Clone()
	}
	if g.MtCredential != nil {
		cp.MtCredential = g.MtCredential.Clone()
	}
	return &cp
}
