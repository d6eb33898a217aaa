package job

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	xerrors "github.com/livepeer/transcode-worker/errors"
)

func TestPostgresCatalogClaimSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	taskToken := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, task_id, basename, source`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "task_id", "basename", "source"}).
			AddRow(int(StatusQueued), taskToken.String(), nil, "https://example.com/src.mp4"))
	mock.ExpectExec(`UPDATE jobs SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cat := &PostgresCatalog{DB: db}
	j, err := cat.Claim(context.Background(), 42, taskToken)
	require.NoError(t, err)
	require.Equal(t, StatusProcess, j.Status)
	require.NotNil(t, j.Basename)
	require.Equal(t, "https://example.com/src.mp4", j.SourceURI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalogClaimNoRowsIsNotClaimable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, task_id, basename, source`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	cat := &PostgresCatalog{DB: db}
	_, err = cat.Claim(context.Background(), 7, uuid.New())
	require.ErrorIs(t, err, ErrNotClaimable)
}

func TestPostgresCatalogClaimWrongStatusIsNotClaimable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, task_id, basename, source`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "task_id", "basename", "source"}).
			AddRow(int(StatusProcess), nil, nil, "https://example.com/src.mp4"))
	mock.ExpectRollback()

	cat := &PostgresCatalog{DB: db}
	_, err = cat.Claim(context.Background(), 7, uuid.New())
	require.ErrorIs(t, err, ErrNotClaimable)
}

func TestPostgresCatalogClaimStaleTokenIsNotClaimable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, task_id, basename, source`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "task_id", "basename", "source"}).
			AddRow(int(StatusQueued), uuid.New().String(), nil, "https://example.com/src.mp4"))
	mock.ExpectRollback()

	cat := &PostgresCatalog{DB: db}
	_, err = cat.Claim(context.Background(), 8, uuid.New())
	require.ErrorIs(t, err, ErrNotClaimable)
}

func TestPostgresCatalogFinalizeConcurrencyLost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	taskToken := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, task_id FROM jobs`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "task_id"}).
			AddRow(int(StatusProcess), uuid.New().String()))
	mock.ExpectRollback()

	cat := &PostgresCatalog{DB: db}
	err = cat.Finalize(context.Background(), 1, taskToken, StatusDone, FinalizeFields{})
	require.True(t, xerrors.IsConcurrency(err))
}

func TestPostgresCatalogFinalizeSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	taskToken := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, task_id FROM jobs`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "task_id"}).
			AddRow(int(StatusProcess), taskToken.String()))
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cat := &PostgresCatalog{DB: db}
	errMsg := "boom"
	err = cat.Finalize(context.Background(), 1, taskToken, StatusError, FinalizeFields{Error: &errMsg})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
