// Package devseed fills a development database with demo accounts and a held
// batch of jobs per provider.
package devseed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/core"
	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// Kind tags every seeded job so a reseed can replace the batch.
const Kind = "devseed"

// DevUserID owns the seeded jobs.
const DevUserID int64 = 1

// Intake is the subset of the intake service seeding needs.
type Intake interface {
	ListAccounts(ctx context.Context, provider model.Provider) ([]model.Account, error)
	CreateAccount(ctx context.Context, req *model.CreateAccountRequest) (*model.Account, error)
	EnqueueBatch(ctx context.Context, reqs []model.CreateJobRequest) ([]int64, error)
	DeleteBatch(ctx context.Context, params core.DeleteBatchParams) (int64, error)
}

// Run seeds every provider in providers. Accounts are created once by label;
// the job batch is replaced on each call.
func Run(ctx context.Context, svc Intake, providers []model.Provider, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for _, p := range providers {
		failures += seedAccounts(ctx, svc, p, logger)
		if err := seedJobs(ctx, svc, p, logger); err != nil {
			logger.ErrorContext(ctx, "failed to seed jobs", "provider", p, "error", err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func demoAccounts(p model.Provider) []model.CreateAccountRequest {
	cred := func(i int) model.Credential {
		if p == model.ProviderHandmais {
			return model.Credential{Token: fmt.Sprintf("dev-token-%d", i)}
		}
		return model.Credential{Login: fmt.Sprintf("dev%d@%s.example.com", i, p), Secret: "dev-password"}
	}
	return []model.CreateAccountRequest{
		{Provider: p, Label: fmt.Sprintf("%s-dev-1", p), Credential: cred(1), DailyLimit: 50},
		{Provider: p, Label: fmt.Sprintf("%s-dev-2", p), Credential: cred(2), DailyLimit: 5},
	}
}

func seedAccounts(ctx context.Context, svc Intake, p model.Provider, logger *slog.Logger) int {
	existing, err := svc.ListAccounts(ctx, p)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list accounts", "provider", p, "error", err)
		return 1
	}
	labels := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		labels[a.Label] = struct{}{}
	}

	failures := 0
	for _, req := range demoAccounts(p) {
		if _, ok := labels[req.Label]; ok {
			logger.InfoContext(ctx, "account already exists", "provider", p, "label", req.Label)
			continue
		}
		if _, err := svc.CreateAccount(ctx, &req); err != nil {
			logger.ErrorContext(ctx, "failed to create account", "provider", p, "label", req.Label, "error", err)
			failures++
			continue
		}
		logger.InfoContext(ctx, "created account", "provider", p, "label", req.Label)
	}
	return failures
}

func demoSubjects() []model.Subject {
	return []model.Subject{
		{NationalID: "12345678909", Name: "Maria da Silva", Phone: "11987654321", BirthDate: "1980-05-17", Gender: "F"},
		{NationalID: "11144477735", Name: "Joao Pereira", Phone: "21998765432", BirthDate: "1975-11-02", Gender: "M"},
		{NationalID: "52998224725", Name: "Ana Souza", BirthDate: "1992-01-30"},
		{NationalID: "39053344705", Name: "Carlos Lima", Phone: "31991234567", BirthDate: "1968-07-21"},
	}
}

// seedJobs replaces the provider's seeded batch. Jobs start held so nothing
// runs until the batch is released.
func seedJobs(ctx context.Context, svc Intake, p model.Provider, logger *slog.Logger) error {
	removed, err := svc.DeleteBatch(ctx, core.DeleteBatchParams{Provider: p, Kind: Kind, UserID: DevUserID})
	if err != nil {
		return fmt.Errorf("delete previous batch: %w", err)
	}

	subjects := demoSubjects()
	reqs := make([]model.CreateJobRequest, 0, len(subjects))
	for _, s := range subjects {
		reqs = append(reqs, model.CreateJobRequest{
			Provider: p,
			Subject:  s,
			Tags:     model.Tags{UserID: DevUserID, TeamID: DevUserID},
			Kind:     Kind,
			Status:   model.JobStatusHeld,
		})
	}
	ids, err := svc.EnqueueBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	logger.InfoContext(ctx, "seeded held jobs", "provider", p, "count", len(ids), "replaced", removed)
	return nil
}
