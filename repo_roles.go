package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Roles reads the seeded role table.
type Roles interface {
	GetByName(ctx context.Context, name RoleName) (*Role, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name RoleName) (*Role, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Role, error)
	Seed(ctx context.Context) error
	SeedTx(ctx context.Context, tx bun.IDB) error
}

type roles struct {
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	return &roles{db: db}
}

func (r *roles) GetByName(ctx context.Context, name RoleName) (*Role, error) {
	return r.GetByNameTx(ctx, r.db, name)
}

func (r *roles) GetByNameTx(ctx context.Context, tx bun.IDB, name RoleName) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().Model(record).Where("?TableAlias.name = ?", name).Limit(1).Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFoundError("role", string(name))
		}
		return nil, err
	}
	return record, nil
}

func (r *roles) GetByID(ctx context.Context, id uuid.UUID) (*Role, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *roles) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Role, error) {
	record := &Role{}
	err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFoundError("role", id.String())
		}
		return nil, err
	}
	return record, nil
}

func (r *roles) Seed(ctx context.Context) error {
	return r.SeedTx(ctx, r.db)
}

// SeedTx inserts every known role, leaving existing rows untouched.
func (r *roles) SeedTx(ctx context.Context, tx bun.IDB) error {
	now := time.Now()
	records := make([]*Role, 0, len(AllRoles()))
	for _, name := range AllRoles() {
		records = append(records, &Role{
			ID:        uuid.New(),
			Name:      name,
			CreatedAt: &now,
		})
	}

	_, err := tx.NewInsert().
		Model(&records).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx)
	return err
}
