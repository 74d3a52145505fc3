package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/data/cryptoutil"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// AccountRepo persists provider accounts and their quota counters. Secrets and
// tokens are sealed with the configured encryptor on write and opened on read.
type AccountRepo struct {
	DB        *sql.DB
	encryptor cryptoutil.Encryptor
	logger    *slog.Logger
}

var _ core.AccountStore = (*AccountRepo)(nil)

// AccountRepoOptions groups optional dependencies for NewAccountRepo.
type AccountRepoOptions struct {
	// Encryptor seals credentials. Nil stores and reads them as plain text.
	Encryptor cryptoutil.Encryptor
	Logger    *slog.Logger
}

// NewAccountRepo creates an AccountRepo.
func NewAccountRepo(db *sql.DB, opts AccountRepoOptions) *AccountRepo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{
		DB:        db,
		encryptor: opts.Encryptor,
		logger:    logger.With("component", "account_repo"),
	}
}

const accountColumns = `
  id,
  provider,
  label,
  login,
  secret,
  token,
  daily_limit,
  consumed,
  last_reset_at,
  updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *AccountRepo) scanAccount(s rowScanner) (model.Account, error) {
	var (
		acc       model.Account
		lastReset sql.NullTime
	)
	if err := s.Scan(
		&acc.ID,
		&acc.Provider,
		&acc.Label,
		&acc.Credential.Login,
		&acc.Credential.Secret,
		&acc.Credential.Token,
		&acc.DailyLimit,
		&acc.Consumed,
		&lastReset,
		&acc.UpdatedAt,
	); err != nil {
		return model.Account{}, err
	}
	acc.LastResetAt = cloneNullableTime(lastReset)
	if r.encryptor != nil {
		var err error
		if acc.Credential.Secret, err = r.encryptor.Decrypt(acc.Credential.Secret); err != nil {
			return model.Account{}, fmt.Errorf("open secret of account %d: %w", acc.ID, err)
		}
		if acc.Credential.Token, err = r.encryptor.Decrypt(acc.Credential.Token); err != nil {
			return model.Account{}, fmt.Errorf("open token of account %d: %w", acc.ID, err)
		}
	}
	return acc, nil
}

func (r *AccountRepo) seal(v string) (string, error) {
	if r.encryptor == nil {
		return v, nil
	}
	return r.encryptor.Encrypt(v)
}

// Create registers an account with its credential sealed.
func (r *AccountRepo) Create(ctx context.Context, req *model.CreateAccountRequest) (*model.Account, error) {
	if req == nil {
		return nil, errors.New("create account request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	secret, err := r.seal(req.Credential.Secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	token, err := r.seal(req.Credential.Token)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}
	acc, err := r.scanAccount(r.DB.QueryRowContext(ctx, `
		INSERT INTO accounts (provider, label, login, secret, token, daily_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+accountColumns,
		req.Provider, req.Label, req.Credential.Login, secret, token, req.DailyLimit,
	))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	r.logger.InfoContext(ctx, "account created", "provider", acc.Provider, "account_id", acc.ID)
	return &acc, nil
}

// ListByProvider returns every account of provider ordered by id ascending.
func (r *AccountRepo) ListByProvider(ctx context.Context, provider model.Provider) ([]model.Account, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider = $1 ORDER BY id ASC`, provider)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acc, scanErr := r.scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan account: %w", scanErr)
		}
		out = append(out, acc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// GetByID returns one account.
func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	acc, err := r.scanAccount(r.DB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acc, nil
}

// ResetCounter zeroes consumed and stamps last_reset_at. The write is absolute,
// so repeating it is harmless.
func (r *AccountRepo) ResetCounter(ctx context.Context, id int64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE accounts
		SET consumed = 0,
			last_reset_at = $2,
			updated_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("reset account counter: %w", err)
	}
	return requireOneRow(res, ErrAccountNotFound)
}

// Increment adds one to consumed in a single statement so concurrent workers
// never lose an update. With Clamp the counter stops at daily_limit.
func (r *AccountRepo) Increment(ctx context.Context, params core.IncrementParams) error {
	at := params.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE accounts
		SET consumed = CASE
				WHEN $2 AND daily_limit > 0 THEN LEAST(consumed + 1, daily_limit)
				ELSE consumed + 1
			END,
			updated_at = $3
		WHERE id = $1
	`, params.AccountID, params.Clamp, at.UTC())
	if err != nil {
		return fmt.Errorf("increment account counter: %w", err)
	}
	return requireOneRow(res, ErrAccountNotFound)
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
