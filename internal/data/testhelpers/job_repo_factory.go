// Package testhelpers builds data-layer repositories for tests outside the data package.
package testhelpers

import (
	"database/sql"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/data"
)

// Stores bundles the repositories a dispatcher integration test needs.
type Stores struct {
	Jobs     *data.JobRepo
	Accounts *data.AccountRepo
}

// NewStoresWithTimeProvider creates the job and account repositories, with
// job timestamps taken from tp.
func NewStoresWithTimeProvider(db *sql.DB, tp data.TimeProvider, logger *slog.Logger) Stores {
	return Stores{
		Jobs:     data.NewJobRepo(db, data.RepoConfig{Logger: logger, TimeProvider: tp}),
		Accounts: data.NewAccountRepo(db, data.AccountRepoOptions{Logger: logger}),
	}
}
