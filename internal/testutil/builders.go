// Package testutil provides testing utilities and helpers for the consult dispatcher.
package testutil

import (
	"time"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with a valid v8 subject.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Provider: model.ProviderV8,
			Subject: model.Subject{
				NationalID: "12345678909",
				Name:       "MARIA DA SILVA",
				Phone:      "11987654321",
				BirthDate:  "1980-05-17",
			},
			Tags: model.Tags{UserID: 1, TeamID: 1},
		},
	}
}

// WithProvider sets the provider.
func (b *JobRequestBuilder) WithProvider(p model.Provider) *JobRequestBuilder {
	b.req.Provider = p
	return b
}

// WithNationalID sets the subject's national id.
func (b *JobRequestBuilder) WithNationalID(id string) *JobRequestBuilder {
	b.req.Subject.NationalID = id
	return b
}

// WithName sets the subject's name.
func (b *JobRequestBuilder) WithName(name string) *JobRequestBuilder {
	b.req.Subject.Name = name
	return b
}

// WithOwner sets the owner tags.
func (b *JobRequestBuilder) WithOwner(userID, teamID int64) *JobRequestBuilder {
	b.req.Tags.UserID = userID
	b.req.Tags.TeamID = teamID
	return b
}

// PinnedTo forces the job onto accountID.
func (b *JobRequestBuilder) PinnedTo(accountID int64) *JobRequestBuilder {
	b.req.ForcedAccountID = &accountID
	return b
}

// WithKind sets the batch kind.
func (b *JobRequestBuilder) WithKind(kind string) *JobRequestBuilder {
	b.req.Kind = kind
	return b
}

// Held creates the job in the intake state.
func (b *JobRequestBuilder) Held() *JobRequestBuilder {
	b.req.Status = model.JobStatusHeld
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// BuildValue returns a copy of the request.
func (b *JobRequestBuilder) BuildValue() model.CreateJobRequest {
	return *b.req
}

// NewJob returns an in-memory pending job for unit tests.
func NewJob(id int64, provider model.Provider, tags model.Tags) model.Job {
	created := TestTime().Add(time.Duration(id) * time.Second)
	return model.Job{
		ID:       id,
		Provider: provider,
		Subject: model.Subject{
			NationalID: "12345678909",
			Name:       "MARIA DA SILVA",
		},
		Tags:      tags,
		Status:    model.JobStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// NewAccount returns an in-memory account with credentials and a limit.
func NewAccount(id int64, provider model.Provider, limit, consumed int) model.Account {
	reset := TestTime()
	return model.Account{
		ID:          id,
		Provider:    provider,
		Label:       "acc",
		Credential:  model.Credential{Login: "user", Secret: "pass"},
		DailyLimit:  limit,
		Consumed:    consumed,
		LastResetAt: &reset,
		UpdatedAt:   reset,
	}
}
