package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/auth"
	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/metrics"
	"github.com/fastsubmit/formgate/internal/repository"
)

// FormReader fetches the current form record.
type FormReader interface {
	GetForm(ctx context.Context, id string) (*db.Form, error)
}

// Decision is the guard's verdict for one request.
type Decision struct {
	Allowed bool
	OwnerID string
	Form    *db.Form
	Reason  *apierr.Error
}

// Err returns the denial reason, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == nil {
		return apierr.ErrInvalidCredential
	}
	return d.Reason
}

// Guard decides whether a credential may act on a form. It always reads the
// form fresh from the store; the resolver cache is never consulted.
type Guard struct {
	forms   FormReader
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewGuard(forms FormReader, m *metrics.Collector, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{forms: forms, metrics: m, logger: logger}
}

// Authorize returns a denial decision for missing, unknown, deleted or
// mismatched credentials. The error is non-nil only when the store fails,
// and the decision is then always a denial.
func (g *Guard) Authorize(ctx context.Context, formID, credential string) (Decision, error) {
	if credential == "" {
		return g.deny(apierr.ErrMissingCredential), nil
	}

	form, err := g.forms.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return g.deny(apierr.ErrNotFound), nil
		}
		g.metrics.AuthDecision("error")
		g.logger.Error("form lookup failed", zap.String("form_id", formID), zap.Error(err))
		return Decision{}, apierr.Upstream(err)
	}

	// A deleted form answers exactly like a missing one.
	if form.Deleted {
		return g.deny(apierr.ErrNotFound), nil
	}

	if !auth.KeysEqual(credential, form.APIKey) {
		return g.deny(apierr.ErrInvalidCredential), nil
	}

	g.metrics.AuthDecision("allowed")
	return Decision{Allowed: true, OwnerID: form.OwnerID, Form: form}, nil
}

func (g *Guard) deny(reason *apierr.Error) Decision {
	g.metrics.AuthDecision(reason.Kind.String())
	return Decision{Reason: reason}
}
