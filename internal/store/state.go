package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// State returns the current build state singleton.
func (s *Store) State(ctx context.Context) (BuildState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dirty, running, reason, mark_seq, last_success_at, last_commit, last_error
		FROM build_state WHERE id = 1`)

	var (
		st                         BuildState
		reason, commitHash, errMsg sql.NullString
		successAt                  sql.NullString
	)
	if err := row.Scan(&st.Dirty, &st.Running, &reason, &st.MarkSeq, &successAt, &commitHash, &errMsg); err != nil {
		return BuildState{}, fmt.Errorf("read build state: %w", err)
	}
	if reason.Valid {
		st.Reason = &reason.String
	}
	if commitHash.Valid {
		st.LastCommit = &commitHash.String
	}
	if errMsg.Valid {
		st.LastError = &errMsg.String
	}
	t, err := scanNullTime(successAt)
	if err != nil {
		return BuildState{}, fmt.Errorf("parse last_success_at: %w", err)
	}
	st.LastSuccessAt = t
	return st, nil
}

// MarkDirty flags public output as stale. Repeated marks are idempotent beyond
// updating the reason; every mark bumps the sequence so an in-flight build
// cannot clear a mark it never observed.
func (s *Store) MarkDirty(ctx context.Context, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE build_state
		SET dirty = 1, reason = ?, mark_seq = mark_seq + 1
		WHERE id = 1`, reason)
	if err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}
	return nil
}

// BeginRun attempts the Dirty -> Running transition. It admits the caller only
// when no build is running and the dirty flag is set; a compare-and-set on the
// singleton row makes this atomic across concurrent callers. On admission it
// returns the mark sequence observed at build start.
func (s *Store) BeginRun(ctx context.Context) (admitted bool, startSeq int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin run tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE build_state SET running = 1
		WHERE id = 1 AND running = 0 AND dirty = 1`)
	if err != nil {
		return false, 0, fmt.Errorf("begin run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("begin run rows: %w", err)
	}
	if n == 0 {
		return false, 0, tx.Commit()
	}

	if err = tx.QueryRowContext(ctx, `SELECT mark_seq FROM build_state WHERE id = 1`).Scan(&startSeq); err != nil {
		return false, 0, fmt.Errorf("read mark_seq: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("commit begin run: %w", err)
	}
	return true, startSeq, nil
}

// FinishSuccess completes a build that started at startSeq. The dirty flag is
// cleared only when no newer mark arrived while the build ran; otherwise it
// stays set for the next run. commitHash is optional.
func (s *Store) FinishSuccess(ctx context.Context, startSeq int64, commitHash string) error {
	var commitArg any
	if commitHash != "" {
		commitArg = commitHash
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE build_state SET
			running = 0,
			dirty = CASE WHEN mark_seq > ?1 THEN 1 ELSE 0 END,
			reason = CASE WHEN mark_seq > ?1 THEN reason ELSE NULL END,
			last_success_at = ?2,
			last_commit = COALESCE(?3, last_commit),
			last_error = NULL
		WHERE id = 1`, startSeq, formatTime(time.Now()), commitArg)
	if err != nil {
		return fmt.Errorf("finish success: %w", err)
	}
	return nil
}

// FinishFailure records a fatal build outcome. Failure never clears dirty, so
// the next scheduler tick retries.
func (s *Store) FinishFailure(ctx context.Context, buildErr error) error {
	msg := ""
	if buildErr != nil {
		msg = buildErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE build_state SET running = 0, dirty = 1, last_error = ?
		WHERE id = 1`, msg)
	if err != nil {
		return fmt.Errorf("finish failure: %w", err)
	}
	return nil
}
