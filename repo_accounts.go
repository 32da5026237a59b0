package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts persists account records. Mutations are conditional updates that
// report whether a row actually changed.
type Accounts interface {
	Create(ctx context.Context, record *Account) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error)

	Find(ctx context.Context, id uuid.UUID, scope Scope) (*Account, error)
	FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope) (*Account, error)
	FindByEmail(ctx context.Context, email string, scope Scope) (*Account, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string, scope Scope) (*Account, error)
	EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error)

	ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, now time.Time) (bool, error)
	SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, now time.Time) (bool, error)
	RestoreTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, now time.Time) (bool, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, scope Scope, now time.Time) (bool, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, update ProfileUpdate, scope Scope, now time.Time) (bool, error)

	SetRefreshToken(ctx context.Context, id uuid.UUID, ref string, now time.Time) (bool, error)
	SetRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, ref string, now time.Time) (bool, error)
	RotateRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expected, ref string, now time.Time) (bool, error)
}

type accounts struct {
	repo repository.Repository[*Account]
	db   *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{repo: repo, db: db}
}

func (a *accounts) Create(ctx context.Context, record *Account) (*Account, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account) (*Account, error) {
	prepareAccountDefaults(record)
	return a.repo.CreateTx(ctx, tx, record)
}

func (a *accounts) Find(ctx context.Context, id uuid.UUID, scope Scope) (*Account, error) {
	return a.FindTx(ctx, a.db, id, scope)
}

func (a *accounts) FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope) (*Account, error) {
	record := &Account{}
	q := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id)
	err := scope.Select(q).Limit(1).Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFoundError("account", id.String())
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) FindByEmail(ctx context.Context, email string, scope Scope) (*Account, error) {
	return a.FindByEmailTx(ctx, a.db, email, scope)
}

func (a *accounts) FindByEmailTx(ctx context.Context, tx bun.IDB, email string, scope Scope) (*Account, error) {
	email = NormalizeEmail(email)
	record := &Account{}
	q := tx.NewSelect().Model(record).Where("?TableAlias.email = ?", email)
	err := scope.Select(q).Limit(1).Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFoundError("account", email)
		}
		return nil, err
	}
	return record, nil
}

// EmailExistsTx checks every row, soft-deleted ones included.
func (a *accounts) EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	return tx.NewSelect().
		Model((*Account)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
}

func (a *accounts) ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, scope, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("is_active = ?", true).
			Set("updated_at = ?", now).
			Where("is_active = ?", false).
			Where("deleted_at IS NULL")
	})
}

func (a *accounts) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, scope, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("deleted_at = ?", now).
			Set("updated_at = ?", now).
			Where("deleted_at IS NULL")
	})
}

func (a *accounts) RestoreTx(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, scope, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("deleted_at = NULL").
			Set("updated_at = ?", now).
			Where("deleted_at IS NOT NULL")
	})
}

func (a *accounts) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, scope Scope, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, scope, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		q = q.
			Set("password_hash = ?", passwordHash).
			Set("updated_at = ?", now)
		if !scope.IncludesDeleted() {
			q = q.Where("deleted_at IS NULL")
		}
		return q
	})
}

// ProfileUpdate lists the mutable profile columns. Nil fields are left as is.
type ProfileUpdate struct {
	Email             *string
	ProfilePictureURL *string
}

func (u ProfileUpdate) IsEmpty() bool {
	return u.Email == nil && u.ProfilePictureURL == nil
}

// UpdateProfileTx never touches soft-deleted rows.
func (a *accounts) UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, update ProfileUpdate, scope Scope, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, scope, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		if update.Email != nil {
			q = q.Set("email = ?", NormalizeEmail(*update.Email))
		}
		if update.ProfilePictureURL != nil {
			if *update.ProfilePictureURL == "" {
				q = q.Set("profile_picture_url = NULL")
			} else {
				q = q.Set("profile_picture_url = ?", *update.ProfilePictureURL)
			}
		}
		return q.
			Set("updated_at = ?", now).
			Where("deleted_at IS NULL")
	})
}

func (a *accounts) SetRefreshToken(ctx context.Context, id uuid.UUID, ref string, now time.Time) (bool, error) {
	return a.SetRefreshTokenTx(ctx, a.db, id, ref, now)
}

// SetRefreshTokenTx overwrites the stored reference. An empty ref clears it.
func (a *accounts) SetRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, ref string, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, AnyRole(), func(q *bun.UpdateQuery) *bun.UpdateQuery {
		if ref == "" {
			q = q.Set("refresh_token = NULL")
		} else {
			q = q.Set("refresh_token = ?", ref)
		}
		return q.Set("updated_at = ?", now)
	})
}

// RotateRefreshTokenTx replaces the reference only while it still equals expected.
func (a *accounts) RotateRefreshTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, expected, ref string, now time.Time) (bool, error) {
	return a.conditionalUpdate(ctx, tx, id, AnyRole(), func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("refresh_token = ?", ref).
			Set("updated_at = ?", now).
			Where("refresh_token = ?", expected).
			Where("deleted_at IS NULL")
	})
}

func (a *accounts) conditionalUpdate(ctx context.Context, tx bun.IDB, id uuid.UUID, scope Scope, build func(*bun.UpdateQuery) *bun.UpdateQuery) (bool, error) {
	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Where("id = ?", id)

	res, err := scope.Update(build(q)).Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)
	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
