package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/audit"
	"github.com/fastsubmit/formgate/internal/auth"
	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/repository"
)

const (
	honeypotField     = "_gotcha"
	maxFormNameLength = 200
	DefaultPageSize   = 50
	MaxPageSize       = 500
)

// FormService runs form and submission operations behind the ownership guard.
type FormService struct {
	store    repository.Store
	guard    *Guard
	resolver *Resolver
	audit    audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

func NewFormService(store repository.Store, guard *Guard, resolver *Resolver, a audit.Logger, logger *zap.Logger) *FormService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if a == nil {
		a = audit.Nop{}
	}
	return &FormService{
		store:    store,
		guard:    guard,
		resolver: resolver,
		audit:    a,
		logger:   logger,
		now:      time.Now,
	}
}

// SubmitInput is one public form post.
type SubmitInput struct {
	Fields    db.Fields
	IP        string
	UserAgent string
	Referer   string
}

// Submit stores a submission for a live form. It returns (nil, nil) when the
// honeypot field is filled: the bot sees success and nothing is stored.
func (s *FormService) Submit(ctx context.Context, formID string, in SubmitInput) (*db.Submission, error) {
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, storeErr(err)
	}
	if form.Deleted {
		return nil, apierr.ErrNotFound
	}

	if filled(in.Fields[honeypotField]) {
		s.logger.Info("honeypot triggered", zap.String("form_id", formID))
		return nil, nil
	}

	data := db.Fields{}
	for k, v := range in.Fields {
		if strings.HasPrefix(k, "_") {
			continue
		}
		data[k] = v
	}
	if len(data) == 0 {
		return nil, apierr.Invalid("submission is empty")
	}

	sub := &db.Submission{
		ID:        uuid.NewString(),
		FormID:    form.ID,
		Data:      data,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Referer:   in.Referer,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, apierr.Upstream(err)
	}
	return sub, nil
}

// CreateForm issues a new form and API key for ownerID.
func (s *FormService) CreateForm(ctx context.Context, actorID, ownerID, name string) (*db.Form, error) {
	var problems []string
	if strings.TrimSpace(ownerID) == "" {
		problems = append(problems, "ownerId is required")
	}
	problems = append(problems, validateName(name)...)
	if len(problems) > 0 {
		return nil, apierr.Invalid(problems...)
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, apierr.Upstream(err)
	}

	now := s.now().UTC()
	form := &db.Form{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		APIKey:    key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateForm(ctx, form); err != nil {
		return nil, apierr.Upstream(err)
	}

	s.audit.Log(audit.LogEntry{
		ActorID:  actorID,
		Action:   "form_create",
		Resource: "form:" + form.ID,
		Status:   http.StatusCreated,
		Metadata: map[string]interface{}{"owner_id": ownerID},
	})
	return form, nil
}

// GetForm returns the form if key owns it.
func (s *FormService) GetForm(ctx context.Context, formID, key string) (*db.Form, error) {
	d, err := s.authorize(ctx, formID, key)
	if err != nil {
		return nil, err
	}
	return d.Form, nil
}

// ListForms returns the live forms of whoever owns key.
func (s *FormService) ListForms(ctx context.Context, key string) ([]*db.Form, error) {
	if key == "" {
		return nil, apierr.ErrMissingCredential
	}
	rc, err := s.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, apierr.ErrInvalidCredential
	}
	// The cached pair may predate a rotation; the guard reads the store.
	d, err := s.guard.Authorize(ctx, rc.ResourceID, key)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		s.resolver.Invalidate(key)
		return nil, apierr.ErrInvalidCredential
	}
	forms, err := s.store.ListFormsByOwner(ctx, d.OwnerID)
	if err != nil {
		return nil, apierr.Upstream(err)
	}
	return forms, nil
}

// filled reports whether a decoded field value carries any content.
func filled(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case []string:
		for _, e := range t {
			if filled(e) {
				return true
			}
		}
		return false
	case []any:
		for _, e := range t {
			if filled(e) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// UpdateInput carries optional form changes; nil fields are left untouched.
type UpdateInput struct {
	Name        *string `json:"name"`
	RedirectURL *string `json:"redirectUrl"`
	NotifyEmail *string `json:"notifyEmail"`
}

func (in UpdateInput) validate() []string {
	var problems []string
	if in.Name != nil {
		problems = append(problems, validateName(*in.Name)...)
	}
	if in.RedirectURL != nil && *in.RedirectURL != "" {
		u, err := url.Parse(*in.RedirectURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "redirectUrl must be an absolute http(s) URL")
		}
	}
	if in.NotifyEmail != nil && *in.NotifyEmail != "" {
		if _, err := mail.ParseAddress(*in.NotifyEmail); err != nil {
			problems = append(problems, "notifyEmail is not a valid address")
		}
	}
	return problems
}

func (s *FormService) UpdateForm(ctx context.Context, formID, key string, in UpdateInput) (*db.Form, error) {
	d, err := s.authorize(ctx, formID, key)
	if err != nil {
		return nil, err
	}
	if problems := in.validate(); len(problems) > 0 {
		return nil, apierr.Invalid(problems...)
	}

	form := d.Form
	if in.Name != nil {
		form.Name = strings.TrimSpace(*in.Name)
	}
	if in.RedirectURL != nil {
		form.RedirectURL = *in.RedirectURL
	}
	if in.NotifyEmail != nil {
		form.NotifyEmail = *in.NotifyEmail
	}
	form.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateForm(ctx, form); err != nil {
		return nil, storeErr(err)
	}
	s.auditFor(d, "form_update", nil)
	return form, nil
}

// DeleteForm soft-deletes the form and evicts its key from the resolver.
func (s *FormService) DeleteForm(ctx context.Context, formID, key string) error {
	d, err := s.authorize(ctx, formID, key)
	if err != nil {
		return err
	}

	form := d.Form
	form.Deleted = true
	form.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateForm(ctx, form); err != nil {
		return storeErr(err)
	}
	s.resolver.Invalidate(form.APIKey)
	s.auditFor(d, "form_delete", nil)
	return nil
}

// RotateKey replaces the form's key. The old key is evicted from the
// resolver before the new key is returned.
func (s *FormService) RotateKey(ctx context.Context, formID, key string) (string, error) {
	d, err := s.authorize(ctx, formID, key)
	if err != nil {
		return "", err
	}

	newKey, err := auth.GenerateAPIKey()
	if err != nil {
		return "", apierr.Upstream(err)
	}

	form := d.Form
	oldKey := form.APIKey
	form.APIKey = newKey
	form.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateForm(ctx, form); err != nil {
		return "", storeErr(err)
	}
	s.resolver.Invalidate(oldKey)
	s.auditFor(d, "key_rotate", map[string]interface{}{"key_prefix": auth.Redact(newKey)})
	return newKey, nil
}

// SubmissionPage is one page of a form's submissions.
type SubmissionPage struct {
	Submissions []*db.Submission
	Total       int
}

func (s *FormService) ListSubmissions(ctx context.Context, formID, key string, limit, offset int) (*SubmissionPage, error) {
	if _, err := s.authorize(ctx, formID, key); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	subs, total, err := s.store.ListSubmissions(ctx, formID, limit, offset)
	if err != nil {
		return nil, apierr.Upstream(err)
	}
	if subs == nil {
		subs = []*db.Submission{}
	}
	return &SubmissionPage{Submissions: subs, Total: total}, nil
}

func (s *FormService) DeleteSubmissions(ctx context.Context, formID, key string) (int, error) {
	d, err := s.authorize(ctx, formID, key)
	if err != nil {
		return 0, err
	}
	n, err := s.store.DeleteSubmissions(ctx, formID)
	if err != nil {
		return 0, apierr.Upstream(err)
	}
	s.auditFor(d, "submissions_delete", map[string]interface{}{"deleted": n})
	return n, nil
}

func (s *FormService) authorize(ctx context.Context, formID, key string) (Decision, error) {
	d, err := s.guard.Authorize(ctx, formID, key)
	if err != nil {
		return Decision{}, err
	}
	if err := d.Err(); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (s *FormService) auditFor(d Decision, action string, meta map[string]interface{}) {
	s.audit.Log(audit.LogEntry{
		ActorID:  d.OwnerID,
		Action:   action,
		Resource: "form:" + d.Form.ID,
		Status:   http.StatusOK,
		Metadata: meta,
	})
}

func validateName(name string) []string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return []string{"name is required"}
	case len(name) > maxFormNameLength:
		return []string{fmt.Sprintf("name must be at most %d characters", maxFormNameLength)}
	}
	return nil
}

func storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apierr.ErrNotFound
	}
	return apierr.Upstream(err)
}
