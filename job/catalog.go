package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/livepeer/transcode-worker/config"
	xerrors "github.com/livepeer/transcode-worker/errors"
)

// Job is the catalog's row shape.
type Job struct {
	ID        int64
	Status    Status
	TaskID    *uuid.UUID
	SourceURI string
	Basename  *uuid.UUID
	PresetRef string
	Metadata  json.RawMessage
	Duration  *time.Duration
	Error     *string
	Created   time.Time
	Modified  time.Time
}

// FinalizeFields carries the terminal-state fields Finalize writes,
// beyond the status itself.
type FinalizeFields struct {
	Error    *string
	Metadata json.RawMessage
	Duration *time.Duration
}

// ErrNotClaimable is returned by Claim when the row is missing, locked by
// another worker, or not in a claimable state/task-token for this caller.
// The Runner's lock loop treats this as a retry signal, not a fatal error.
var ErrNotClaimable = errors.New("job: row not claimable")

// Catalog is the small surface the Runner needs from the external job
// store, honoring SKIP LOCKED/transactional semantics. Production is
// PostgresCatalog; tests substitute a fake or drive PostgresCatalog
// itself against go-sqlmock.
type Catalog interface {
	// Claim locks job jobID for taskToken, transitioning QUEUED->PROCESS
	// and generating a Basename if one is not already set. Returns
	// ErrNotClaimable if the row cannot be claimed right now.
	Claim(ctx context.Context, jobID int64, taskToken uuid.UUID) (Job, error)
	// Finalize writes the terminal (or requeued) state for jobID, which
	// must currently be owned (PROCESS, same taskToken) by the caller.
	Finalize(ctx context.Context, jobID int64, taskToken uuid.UUID, status Status, fields FinalizeFields) error
}

// PostgresCatalog is the lib/pq-backed Catalog, grounded on the original
// Django implementation's select_for_update(skip_locked=True)/change_status
// pair (job/catalog.go's Claim/Finalize follow that same two-transaction
// shape: lock-and-verify, then lock-and-write).
type PostgresCatalog struct {
	DB *sql.DB
}

func NewPostgresCatalog(dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Transient("opening catalog database", err)
	}
	return &PostgresCatalog{DB: db}, nil
}

func (c *PostgresCatalog) Claim(ctx context.Context, jobID int64, taskToken uuid.UUID) (Job, error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, xerrors.Transient("beginning claim transaction", err)
	}
	defer tx.Rollback()

	var (
		status    int
		taskID    sql.NullString
		basename  sql.NullString
		sourceURI string
	)
	row := tx.QueryRowContext(ctx, `
		SELECT status, task_id, basename, source
		FROM jobs WHERE id = $1
		FOR UPDATE SKIP LOCKED`, jobID)
	if err := row.Scan(&status, &taskID, &basename, &sourceURI); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotClaimable
		}
		return Job{}, xerrors.Transient("selecting job for claim", err)
	}

	if Status(status) != StatusQueued {
		return Job{}, ErrNotClaimable
	}
	// The producer stamped task_id when it enqueued this job; a row whose
	// token no longer matches the delivered task belongs to a newer
	// enqueue and must not be claimed by this one.
	if !taskID.Valid || taskID.String != taskToken.String() {
		return Job{}, ErrNotClaimable
	}

	basenameID := uuid.New()
	if basename.Valid {
		if parsed, err := uuid.Parse(basename.String); err == nil {
			basenameID = parsed
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, task_id = $2, basename = $3, modified = $4
		WHERE id = $5`,
		int(StatusProcess), taskToken.String(), basenameID.String(), config.Clock.GetTime(), jobID); err != nil {
		return Job{}, xerrors.Transient("updating job to PROCESS", err)
	}

	if err := tx.Commit(); err != nil {
		return Job{}, xerrors.Transient("committing claim transaction", err)
	}

	return Job{
		ID:        jobID,
		Status:    StatusProcess,
		TaskID:    &taskToken,
		SourceURI: sourceURI,
		Basename:  &basenameID,
	}, nil
}

func (c *PostgresCatalog) Finalize(ctx context.Context, jobID int64, taskToken uuid.UUID, status Status, fields FinalizeFields) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Transient("beginning finalize transaction", err)
	}
	defer tx.Rollback()

	var (
		curStatus int
		taskID    sql.NullString
	)
	row := tx.QueryRowContext(ctx, `
		SELECT status, task_id FROM jobs WHERE id = $1 FOR UPDATE SKIP LOCKED`, jobID)
	if err := row.Scan(&curStatus, &taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return xerrors.Concurrency(fmt.Sprintf("job %d missing or locked at finalize", jobID))
		}
		return xerrors.Transient("selecting job for finalize", err)
	}
	if Status(curStatus) != StatusProcess || !taskID.Valid || taskID.String != taskToken.String() {
		return xerrors.Concurrency(fmt.Sprintf("job %d no longer owned by task %s", jobID, taskToken))
	}

	var durationSeconds sql.NullFloat64
	if fields.Duration != nil {
		durationSeconds = sql.NullFloat64{Float64: fields.Duration.Seconds(), Valid: true}
	}
	var metadataJSON []byte
	if fields.Metadata != nil {
		metadataJSON = []byte(fields.Metadata)
	}

	// task_id is left untouched: on a requeue to QUEUED it keeps
	// pointing at the task that last owned the job (matching the
	// invariant that QUEUED implies a non-null task_id) until the next
	// enqueue overwrites it with a fresh token.
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error = $2, metadata = $3, duration = $4, modified = $5
		WHERE id = $6`,
		int(status), fields.Error, metadataJSON, durationSeconds, config.Clock.GetTime(), jobID); err != nil {
		return xerrors.Transient("updating job to terminal state", err)
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Transient("committing finalize transaction", err)
	}
	return nil
}
