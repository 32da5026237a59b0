package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SingleUseTokens persists activation and reset tokens in one table keyed by
// (token, kind).
type SingleUseTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *SingleUseToken) (*SingleUseToken, error)
	FindTx(ctx context.Context, tx bun.IDB, value string, kind TokenKind) (*SingleUseToken, error)
	ListTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind TokenKind) ([]*SingleUseToken, error)
	// MarkUsedTx flips is_used only while it is still false.
	MarkUsedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error)
	InvalidateUnusedTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind TokenKind, now time.Time) (int64, error)
}

type singleUseTokens struct {
	repo repository.Repository[*SingleUseToken]
}

var _ SingleUseTokens = (*singleUseTokens)(nil)

func NewSingleUseTokensRepository(db *bun.DB) SingleUseTokens {
	repo := repository.NewRepository[*SingleUseToken](db, repository.ModelHandlers[*SingleUseToken]{
		NewRecord: func() *SingleUseToken { return &SingleUseToken{} },
		GetID: func(t *SingleUseToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *SingleUseToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})
	return &singleUseTokens{repo: repo}
}

func (s *singleUseTokens) CreateTx(ctx context.Context, tx bun.IDB, record *SingleUseToken) (*SingleUseToken, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now()
		record.CreatedAt = &now
	}
	return s.repo.CreateTx(ctx, tx, record)
}

func (s *singleUseTokens) FindTx(ctx context.Context, tx bun.IDB, value string, kind TokenKind) (*SingleUseToken, error) {
	record := &SingleUseToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", value).
		Where("?TableAlias.kind = ?", kind).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFoundError("token", MaskToken(value))
		}
		return nil, err
	}
	return record, nil
}

func (s *singleUseTokens) ListTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind TokenKind) ([]*SingleUseToken, error) {
	records := []*SingleUseToken{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.kind = ?", kind).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (s *singleUseTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*SingleUseToken)(nil)).
		Set("is_used = ?", true).
		Set("used_at = ?", now).
		Where("id = ?", id).
		Where("is_used = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *singleUseTokens) InvalidateUnusedTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind TokenKind, now time.Time) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*SingleUseToken)(nil)).
		Set("is_used = ?", true).
		Set("used_at = ?", now).
		Where("account_id = ?", accountID).
		Where("kind = ?", kind).
		Where("is_used = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
