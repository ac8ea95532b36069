package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/clock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, Postgres, WithClock(clock.Fake(testStart))), mock
}

func TestPostgresAppendActionUsesNumberedPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, NULL)")).
		WithArgs(formatTime(testStart), "scale", "12345", `{"new_count":2}`, "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := s.AppendAction(context.Background(), ActionScale, "12345", map[string]int{"new_count": 2}, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateActionStatusAlreadyTerminal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $3 AND status = $4")).
		WithArgs("completed", nil, int64(3), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM action_ledger WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("blocked"))

	err := s.UpdateActionStatus(context.Background(), 3, StatusCompleted, "")
	assert.True(t, errors.Is(err, ErrAlreadyTerminal), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIsInCooldown(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("AND (deployment_id = $3 OR deployment_id IS NULL)")).
		WithArgs("redeploy", formatTime(testStart), "9").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active, err := s.IsInCooldown(context.Background(), ActionRedeploy, "9")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountActionsSince(t *testing.T) {
	s, mock := newMockStore(t)
	since := testStart.Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("status IN ($2, $3) AND action_type = $4")).
		WithArgs(formatTime(since), "completed", "failed", "scale").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountActionsSince(context.Background(), since, ActionScale)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
