package repository

import (
	"context"
	"errors"

	"github.com/fastsubmit/formgate/internal/db"
)

var ErrNotFound = errors.New("record not found")

// FormRepository is the document store for forms. GetForm returns deleted
// forms too; callers decide what a deleted form means.
type FormRepository interface {
	GetForm(ctx context.Context, id string) (*db.Form, error)
	// FindFormByAPIKey returns the live form holding key, or ErrNotFound.
	FindFormByAPIKey(ctx context.Context, key string) (*db.Form, error)
	ListFormsByOwner(ctx context.Context, ownerID string) ([]*db.Form, error)
	CreateForm(ctx context.Context, form *db.Form) error
	UpdateForm(ctx context.Context, form *db.Form) error
	Ping(ctx context.Context) error
}

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, s *db.Submission) error
	// ListSubmissions returns one page, newest first, plus the total count.
	ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*db.Submission, int, error)
	DeleteSubmissions(ctx context.Context, formID string) (int, error)
}

// Store is everything the service layer needs from persistence.
type Store interface {
	FormRepository
	SubmissionRepository
	Close() error
}
