package aoestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// AoeModelRecord is the bun row shape for one persisted AOE model. The
// full model rides as jsonb; id/name/trigger are lifted out for queries.
type AoeModelRecord struct {
	bun.BaseModel `bun:"table:aoe_models,alias:am"`

	ID        uint64           `bun:"id,pk"`
	Name      string           `bun:"name"`
	Trigger   string           `bun:"trigger"`
	Spec      *domain.AoeModel `bun:"spec,type:jsonb"`
	UpdatedAt time.Time        `bun:"updated_at"`
}

// BunStore persists AOE model definitions in Postgres via bun.
type BunStore struct {
	db *bun.DB
}

func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}
}

func (s *BunStore) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*AoeModelRecord)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (s *BunStore) SaveModel(ctx context.Context, model *domain.AoeModel) error {
	record := &AoeModelRecord{
		ID:        model.ID,
		Name:      model.Name,
		Trigger:   model.Trigger.String(),
		Spec:      model,
		UpdatedAt: time.Now(),
	}
	_, err := s.db.NewInsert().Model(record).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) GetModel(ctx context.Context, id uint64) (*domain.AoeModel, error) {
	record := new(AoeModelRecord)
	if err := s.db.NewSelect().Model(record).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return record.Spec, nil
}

func (s *BunStore) ListModels(ctx context.Context) ([]*domain.AoeModel, error) {
	var records []AoeModelRecord
	if err := s.db.NewSelect().Model(&records).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.AoeModel, len(records))
	for i, r := range records {
		out[i] = r.Spec
	}
	return out, nil
}

func (s *BunStore) DeleteModel(ctx context.Context, id uint64) error {
	_, err := s.db.NewDelete().Model((*AoeModelRecord)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
