package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// resultFields flattens an entry into the result, result_status, result_value
// and result_key columns.
func resultFields(e model.ResultEntry) (payload []byte, status, key sql.NullString, value sql.NullFloat64, err error) {
	payload, err = json.Marshal(e)
	if err != nil {
		return nil, status, key, value, fmt.Errorf("marshal result entry: %w", err)
	}
	if e.Status != "" {
		status = sql.NullString{String: e.Status, Valid: true}
	}
	if e.MatchKey != "" {
		key = sql.NullString{String: e.MatchKey, Valid: true}
	}
	if e.Value != nil {
		value = sql.NullFloat64{Float64: *e.Value, Valid: true}
	}
	return payload, status, key, value, nil
}

// UpdateResult writes a workflow entry onto an existing row. A nil
// upd.AccountID keeps the row's current account.
func (r *JobRepo) UpdateResult(ctx context.Context, id int64, upd model.ResultUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("invalid result status %q", upd.Status)
	}
	payload, status, key, value, err := resultFields(upd.Entry)
	if err != nil {
		return err
	}
	s := upd.Subject
	res, err := r.DB.ExecContext(ctx, `
		UPDATE consult_jobs
		SET cpf = $2,
			nome = $3,
			telefone = $4,
			nascimento = $5,
			email = $6,
			sexo = $7,
			status = $8,
			message = $9,
			result = $10,
			result_status = $11,
			result_value = $12,
			result_key = $13,
			account_id = COALESCE($14, account_id),
			updated_at = $15
		WHERE id = $1
	`,
		id,
		s.NationalID, s.Name, s.Phone, s.BirthDate, s.Email, s.Gender,
		upd.Status, upd.Message,
		payload, status, value, key,
		upd.AccountID,
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update job result: %w", err)
	}
	return requireOneRow(res, ErrJobNotFound)
}

// InsertResult inserts a new row carrying src's provider, owner tags, pin and
// kind, with upd applied on top.
func (r *JobRepo) InsertResult(ctx context.Context, src model.Job, upd model.ResultUpdate) (int64, error) {
	if !upd.Status.Valid() {
		return 0, fmt.Errorf("invalid result status %q", upd.Status)
	}
	payload, status, key, value, err := resultFields(upd.Entry)
	if err != nil {
		return 0, err
	}
	accountID := upd.AccountID
	if accountID == nil {
		accountID = src.AccountID
	}
	now := r.timeProvider.Now().UTC()
	s := upd.Subject

	var id int64
	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO consult_jobs (
			provider, cpf, nome, telefone, nascimento, email, sexo,
			user_id, team_id, role_id, status, message, forced_account_id, account_id, kind,
			result, result_status, result_value, result_key,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $20
		)
		RETURNING id
	`,
		src.Provider, s.NationalID, s.Name, s.Phone, s.BirthDate, s.Email, s.Gender,
		src.Tags.UserID, src.Tags.TeamID, src.Tags.RoleID, upd.Status, upd.Message,
		src.ForcedAccountID, accountID, src.Kind,
		payload, status, value, key,
		now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job result: %w", err)
	}
	return id, nil
}

// FindSimilar returns the newest row for the same subject, owner, pin and
// result key, or nil when none exists.
func (r *JobRepo) FindSimilar(ctx context.Context, params core.FindSimilarParams) (*model.Job, error) {
	if params.ResultKey == "" {
		return nil, nil
	}
	job, err := scanJob(r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM consult_jobs
		WHERE provider = $1
		  AND cpf = $2
		  AND user_id = $3
		  AND team_id = $4
		  AND forced_account_id IS NOT DISTINCT FROM $5
		  AND result_key = $6
		  AND id <> $7
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`,
		params.Provider, params.NationalID, params.Tags.UserID, params.Tags.TeamID,
		params.ForcedAccountID, params.ResultKey, params.ExcludeID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find similar job: %w", err)
	}
	return &job, nil
}

// MarkError moves a job to erro with message and clears its result value.
func (r *JobRepo) MarkError(ctx context.Context, id int64, message string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE consult_jobs
		SET status = 'erro',
			message = $2,
			result_value = NULL,
			updated_at = $3
		WHERE id = $1
	`, id, message, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark job error: %w", err)
	}
	return requireOneRow(res, ErrJobNotFound)
}
