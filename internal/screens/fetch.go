package screens

import (
	"context"
	"errors"

	"github.com/collabcards/dashboard/internal/models"
	"github.com/collabcards/dashboard/internal/table"
)

// Scope keys understood by the fetchers.
const (
	ScopeCompany = "company_id"
	ScopeBatch   = "batch_id"
)

// ErrBatchRequired is returned by the cards fetcher when no batch is in scope.
var ErrBatchRequired = errors.New("batch id is required")

// Source is the part of the backend the list screens read.
type Source interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	PendingBatches(ctx context.Context, companyID string) ([]models.Batch, error)
	BatchRecords(ctx context.Context, batchID string) ([]models.CollabCard, error)
}

func FetchCompanies(src Source) table.FetchFunc[models.Company] {
	return func(ctx context.Context, _ table.Scope) ([]models.Company, error) {
		return src.ListCompanies(ctx)
	}
}

func FetchUsers(src Source) table.FetchFunc[models.User] {
	return func(ctx context.Context, _ table.Scope) ([]models.User, error) {
		return src.ListUsers(ctx)
	}
}

// FetchBatches lists pending batches of the company in scope; an empty
// company lists across companies.
func FetchBatches(src Source) table.FetchFunc[models.Batch] {
	return func(ctx context.Context, scope table.Scope) ([]models.Batch, error) {
		return src.PendingBatches(ctx, scope[ScopeCompany])
	}
}

// FetchCards lists the records of the batch in scope.
func FetchCards(src Source) table.FetchFunc[models.CollabCard] {
	return func(ctx context.Context, scope table.Scope) ([]models.CollabCard, error) {
		id := scope[ScopeBatch]
		if id == "" {
			return nil, ErrBatchRequired
		}
		return src.BatchRecords(ctx, id)
	}
}

// BatchScope is the trigger input of the batches screen.
func BatchScope(companyID string) table.Scope {
	if companyID == "" {
		return table.Scope{}
	}
	return table.Scope{ScopeCompany: companyID}
}

// CardScope is the trigger input of a batch's cards screen.
func CardScope(batchID string) table.Scope {
	return table.Scope{ScopeBatch: batchID}
}
