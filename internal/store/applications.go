package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Application is one ATS write recorded in the ledger.
type Application struct {
	IdempotencyKey string
	CandidateID    string
	JobID          string
	Slot           string
	ApplicationID  string
}

// LookupApplication returns the application recorded under key.
// found is false when no write with that key has succeeded.
func (s *Store) LookupApplication(ctx context.Context, key string) (Application, bool, error) {
	app := Application{IdempotencyKey: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT candidate_id, job_id, slot, application_id
		FROM applications
		WHERE idempotency_key = ?
	`, key).Scan(&app.CandidateID, &app.JobID, &app.Slot, &app.ApplicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, false, nil
	}
	if err != nil {
		return Application{}, false, fmt.Errorf("lookup application: %w", err)
	}
	return app, true, nil
}

// RecordApplication stores a successful ATS write.
// Uses ON CONFLICT DO NOTHING so the first recorded reference wins.
func (s *Store) RecordApplication(ctx context.Context, app Application) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications
		(idempotency_key, candidate_id, job_id, slot, application_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`,
		app.IdempotencyKey,
		app.CandidateID,
		app.JobID,
		app.Slot,
		app.ApplicationID,
	)
	if err != nil {
		return fmt.Errorf("record application: %w", err)
	}
	return nil
}
