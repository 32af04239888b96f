package aoestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// newMockStore creates a BunStore backed by go-sqlmock, so the query
// builder is exercised without a running Postgres. QueryMatcherRegexp
// lets expectations match fragments of bun's generated SQL.
func newMockStore(t *testing.T) (*BunStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &BunStore{db: bun.NewDB(db, pgdialect.New())}, mock
}

func sampleModel() *domain.AoeModel {
	return &domain.AoeModel{
		ID:      9,
		Name:    "demo",
		Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "x > 0", TimeoutMS: 100}},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
}

func TestBunStore_SaveModel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "aoe_models"`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveModel(context.Background(), sampleModel()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_GetModel(t *testing.T) {
	store, mock := newMockStore(t)

	model := sampleModel()
	spec, err := json.Marshal(model)
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"id", "name", "trigger", "spec", "updated_at"}).
		AddRow(model.ID, model.Name, model.Trigger.String(), spec, time.Now())
	mock.ExpectQuery(`SELECT .+ FROM "aoe_models"`).WillReturnRows(rows)

	got, err := store.GetModel(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "x > 0", got.Events[0].Expr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_DeleteModel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM "aoe_models"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteModel(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}
