package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/data/pgxutil"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for consult jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.JobStore = (*JobRepo)(nil)

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

var jobColumnList = []string{
	"id",
	"provider",
	"cpf",
	"nome",
	"telefone",
	"nascimento",
	"email",
	"sexo",
	"user_id",
	"team_id",
	"role_id",
	"status",
	"message",
	"forced_account_id",
	"account_id",
	"kind",
	"result",
	"result_status",
	"result_value",
	"result_key",
	"created_at",
	"updated_at",
}

var (
	jobColumns = strings.Join(jobColumnList, ", ")
	// jobColumnsJ qualifies every column with the "j" alias for UPDATE ... FROM ... RETURNING.
	jobColumnsJ = "j." + strings.Join(jobColumnList, ", j.")
)

// scanJob reads one row in jobColumnList order. It serves database/sql rows
// and native pgx rows alike.
func scanJob(s rowScanner) (model.Job, error) {
	var (
		job          model.Job
		roleID       sql.NullInt64
		message      sql.NullString
		forcedID     sql.NullInt64
		accountID    sql.NullInt64
		result       []byte
		resultStatus sql.NullString
		resultValue  sql.NullFloat64
		resultKey    sql.NullString
	)
	if err := s.Scan(
		&job.ID,
		&job.Provider,
		&job.Subject.NationalID,
		&job.Subject.Name,
		&job.Subject.Phone,
		&job.Subject.BirthDate,
		&job.Subject.Email,
		&job.Subject.Gender,
		&job.Tags.UserID,
		&job.Tags.TeamID,
		&roleID,
		&job.Status,
		&message,
		&forcedID,
		&accountID,
		&job.Kind,
		&result,
		&resultStatus,
		&resultValue,
		&resultKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return model.Job{}, err
	}
	job.Tags.RoleID = nullableInt64(roleID)
	job.Message = nullableString(message)
	job.ForcedAccountID = nullableInt64(forcedID)
	job.AccountID = nullableInt64(accountID)
	if len(result) > 0 {
		job.Result = json.RawMessage(append([]byte(nil), result...))
	}
	job.ResultStatus = nullableString(resultStatus)
	if resultValue.Valid {
		v := resultValue.Float64
		job.ResultValue = &v
	}
	job.ResultKey = nullableString(resultKey)
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	defer rows.Close()
	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Create inserts one job. Status defaults to pendente.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	query, args := r.buildInsert(*req)
	job, err := scanJob(r.DB.QueryRowContext(ctx, query+` RETURNING `+jobColumns, args...))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &job, nil
}

// CreateBatch inserts every request in one transaction. Any invalid request
// aborts the whole batch.
func (r *JobRepo) CreateBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]int64, error) {
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	ids := make([]int64, 0, len(reqs))
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			for i := range reqs {
				query, args := r.buildInsert(reqs[i])
				var id int64
				if err := tx.QueryRowContext(ctx, query+` RETURNING id`, args...).Scan(&id); err != nil {
					return fmt.Errorf("insert job %d: %w", i, err)
				}
				ids = append(ids, id)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *JobRepo) buildInsert(req model.CreateJobRequest) (string, []any) {
	status := req.Status
	if status == "" {
		status = model.JobStatusPending
	}
	now := r.timeProvider.Now().UTC()
	s := req.Subject
	return `
		INSERT INTO consult_jobs (
			provider, cpf, nome, telefone, nascimento, email, sexo,
			user_id, team_id, role_id, status, forced_account_id, kind,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		[]any{
			req.Provider, s.NationalID, s.Name, s.Phone, s.BirthDate, s.Email, s.Gender,
			req.Tags.UserID, req.Tags.TeamID, req.Tags.RoleID, status, req.ForcedAccountID, req.Kind,
			now,
		}
}

// GetByID returns one job.
func (r *JobRepo) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	job, err := scanJob(r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM consult_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// jobFilter accumulates WHERE conditions with positional arguments.
type jobFilter struct {
	conds []string
	args  []any
}

func (f *jobFilter) add(cond string, value any) {
	f.args = append(f.args, value)
	f.conds = append(f.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(f.args))))
}

func (f *jobFilter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// List returns jobs newest first, filtered by every non-zero field of params.
func (r *JobRepo) List(ctx context.Context, params core.ListJobsParams) ([]model.Job, error) {
	var f jobFilter
	if params.Provider != "" {
		f.add("provider = ?", params.Provider)
	}
	if params.UserID != 0 {
		f.add("user_id = ?", params.UserID)
	}
	if params.NationalID != "" {
		f.add("cpf = ?", params.NationalID)
	}
	if name := strings.TrimSpace(params.Name); name != "" {
		f.add("nome ILIKE '%' || ? || '%'", name)
	}
	if params.Status != "" {
		f.add("status = ?", params.Status)
	}
	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	f.args = append(f.args, limit)
	query := `SELECT ` + jobColumns + ` FROM consult_jobs` + f.where() +
		` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(f.args))

	rows, err := r.DB.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountByStatus returns job counts per status for provider.
func (r *JobRepo) CountByStatus(ctx context.Context, provider model.Provider) (map[model.JobStatus]int64, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, count(*) FROM consult_jobs WHERE provider = $1 GROUP BY status`, provider)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.JobStatus]int64)
	for rows.Next() {
		var (
			status model.JobStatus
			n      int64
		)
		if err = rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return out, nil
}

// DeleteBatch removes every job of a kind within an owner scope. Jobs a run is
// currently processing are left alone.
func (r *JobRepo) DeleteBatch(ctx context.Context, params core.DeleteBatchParams) (int64, error) {
	kind := strings.TrimSpace(params.Kind)
	if kind == "" || !params.Provider.Valid() {
		return 0, ErrEmptyScope
	}
	var f jobFilter
	f.add("provider = ?", params.Provider)
	f.add("kind = ?", kind)
	f.add("status <> ?", model.JobStatusProcessing)
	if params.UserID != 0 {
		f.add("user_id = ?", params.UserID)
	}
	if params.TeamID != 0 {
		f.add("team_id = ?", params.TeamID)
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM consult_jobs`+f.where(), f.args...)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "deleted job batch",
			"provider", params.Provider,
			"kind", kind,
			"user_id", params.UserID,
			"team_id", params.TeamID,
			"count", n,
		)
	}
	return n, nil
}

func nullableInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
