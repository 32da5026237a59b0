package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountState is derived from isActive and deletedAt.
type AccountState string

const (
	StatePendingActivation AccountState = "pending_activation"
	StateActive            AccountState = "active"
	StateSoftDeleted       AccountState = "soft_deleted"
)

// Role is a seeded, immutable role record.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Name          RoleName   `bun:"name,notnull,unique" json:"name"`
	CreatedAt     *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
}

// Account is the account model. Role and token relations are held as ids.
type Account struct {
	bun.BaseModel     `bun:"table:accounts,alias:acc"`
	ID                uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	RoleID            uuid.UUID  `bun:"role_id,notnull,type:uuid" json:"role_id"`
	Email             string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash      string     `bun:"password_hash,notnull" json:"-"`
	ProfilePictureURL string     `bun:"profile_picture_url,nullzero" json:"profile_picture_url,omitempty"`
	IsActive          bool       `bun:"is_active,notnull" json:"is_active"`
	RefreshTokenRef   string     `bun:"refresh_token,nullzero" json:"-"`
	CreatedAt         *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
	DeletedAt         *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// State returns the lifecycle state of the account.
func (a *Account) State() AccountState {
	if a.DeletedAt != nil {
		return StateSoftDeleted
	}
	if a.IsActive {
		return StateActive
	}
	return StatePendingActivation
}

func (a *Account) IsDeleted() bool {
	return a != nil && a.DeletedAt != nil
}

// TokenKind discriminates single-use tokens.
type TokenKind string

const (
	TokenKindActivation TokenKind = "ACTIVATION"
	TokenKindReset      TokenKind = "RESET"
)

func (k TokenKind) IsValid() bool {
	return k == TokenKindActivation || k == TokenKindReset
}

// SingleUseToken is an activation or password reset token.
type SingleUseToken struct {
	bun.BaseModel `bun:"table:single_use_tokens,alias:sut"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id"`
	Kind          TokenKind  `bun:"kind,notnull" json:"kind"`
	Token         string     `bun:"token,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	IsUsed        bool       `bun:"is_used,notnull" json:"is_used"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
}

// IsExpired reports whether now is strictly after the expiry.
func (t *SingleUseToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
