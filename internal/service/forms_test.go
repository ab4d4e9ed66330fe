package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/audit"
	"github.com/fastsubmit/formgate/internal/db"
)

type recordingAudit struct {
	entries []audit.LogEntry
}

func (r *recordingAudit) Log(e audit.LogEntry) { r.entries = append(r.entries, e) }

func (r *recordingAudit) actions() []string {
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	store    *countingStore
	resolver *Resolver
	svc      *FormService
	audit    *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newCountingStore()
	logger := zaptest.NewLogger(t)
	resolver := NewResolver(store, 5*time.Minute, nil, logger)
	guard := NewGuard(store, nil, logger)
	rec := &recordingAudit{}
	return &fixture{
		store:    store,
		resolver: resolver,
		svc:      NewFormService(store, guard, resolver, rec, logger),
		audit:    rec,
	}
}

func (f *fixture) createForm(t *testing.T, owner string) *db.Form {
	t.Helper()
	form, err := f.svc.CreateForm(context.Background(), "operator", owner, "Contact")
	if err != nil {
		t.Fatalf("CreateForm: %v", err)
	}
	return form
}

func TestFormService_RotateKeyInvalidatesOldKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")
	oldKey := form.APIKey

	// warm the cache with the old key
	if rc, _ := f.resolver.Resolve(ctx, oldKey); rc == nil {
		t.Fatal("old key should resolve before rotation")
	}

	newKey, err := f.svc.RotateKey(ctx, form.ID, oldKey)
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if newKey == oldKey {
		t.Fatal("rotated key must differ")
	}

	rc, err := f.resolver.Resolve(ctx, oldKey)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rc != nil {
		t.Fatal("old key must not resolve after rotation")
	}

	if _, err := f.svc.GetForm(ctx, form.ID, oldKey); !errors.Is(err, apierr.ErrInvalidCredential) {
		t.Fatalf("old key should be forbidden, got %v", err)
	}
	if _, err := f.svc.GetForm(ctx, form.ID, newKey); err != nil {
		t.Fatalf("new key should work: %v", err)
	}
}

func TestFormService_DeleteFormHidesIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")

	f.resolver.Resolve(ctx, form.APIKey)

	if err := f.svc.DeleteForm(ctx, form.ID, form.APIKey); err != nil {
		t.Fatalf("DeleteForm: %v", err)
	}
	if f.resolver.Size() != 0 {
		t.Error("deleted form's key should be evicted from the resolver")
	}
	if _, err := f.svc.GetForm(ctx, form.ID, form.APIKey); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, form.ID, SubmitInput{Fields: db.Fields{"a": "b"}}); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("submissions to a deleted form should 404, got %v", err)
	}
	if _, err := f.svc.ListForms(ctx, form.APIKey); !errors.Is(err, apierr.ErrInvalidCredential) {
		t.Fatalf("deleted form's key should no longer list forms, got %v", err)
	}
}

func TestFormService_Submit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")

	sub, err := f.svc.Submit(ctx, form.ID, SubmitInput{
		Fields: db.Fields{"email": "a@example.com", "_next": "https://example.com/thanks"},
		IP:     "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := sub.Data["_next"]; ok {
		t.Error("control fields must not be stored")
	}
	if sub.Data["email"] != "a@example.com" || sub.IP != "203.0.113.9" {
		t.Errorf("unexpected submission: %+v", sub)
	}

	trapped := []interface{}{"x", true, []string{"", "spam"}, []interface{}{"spam"}}
	for _, v := range trapped {
		sub, err = f.svc.Submit(ctx, form.ID, SubmitInput{Fields: db.Fields{"email": "bot@example.com", "_gotcha": v}})
		if err != nil || sub != nil {
			t.Fatalf("honeypot %#v should drop the submission, got %v %v", v, sub, err)
		}
	}

	untouched := []interface{}{nil, "", false, []string{""}, []string{}}
	for _, v := range untouched {
		sub, err = f.svc.Submit(ctx, form.ID, SubmitInput{Fields: db.Fields{"email": "a@b.c", "_gotcha": v}})
		if err != nil || sub == nil {
			t.Fatalf("empty honeypot %#v should be stored, got %v %v", v, sub, err)
		}
	}

	_, err = f.svc.Submit(ctx, form.ID, SubmitInput{Fields: db.Fields{"_next": "x"}})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.Validation {
		t.Fatalf("expected validation error for empty submission, got %v", err)
	}

	page, err := f.svc.ListSubmissions(ctx, form.ID, form.APIKey, 0, 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if want := 1 + len(untouched); page.Total != want {
		t.Fatalf("expected %d stored submissions, got %d", want, page.Total)
	}

	if _, err := f.svc.Submit(ctx, "missing", SubmitInput{Fields: db.Fields{"a": "b"}}); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFormService_UpdateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")

	bad := "ftp://example.com"
	email := "not-an-email"
	_, err := f.svc.UpdateForm(ctx, form.ID, form.APIKey, UpdateInput{RedirectURL: &bad, NotifyEmail: &email})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || len(apiErr.Details) != 2 {
		t.Fatalf("expected two validation problems, got %v", err)
	}

	name := "Newsletter"
	updated, err := f.svc.UpdateForm(ctx, form.ID, form.APIKey, UpdateInput{Name: &name})
	if err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
	if updated.Name != "Newsletter" {
		t.Errorf("name not updated: %q", updated.Name)
	}
}

func TestFormService_ListFormsUsesResolverCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")
	f.createForm(t, "owner1")
	f.createForm(t, "owner2")

	for i := 0; i < 3; i++ {
		forms, err := f.svc.ListForms(ctx, form.APIKey)
		if err != nil {
			t.Fatalf("ListForms: %v", err)
		}
		if len(forms) != 2 {
			t.Fatalf("expected 2 forms for owner1, got %d", len(forms))
		}
	}
	if f.store.finds() != 1 {
		t.Errorf("expected a single key lookup, got %d", f.store.finds())
	}

	if _, err := f.svc.ListForms(ctx, ""); !errors.Is(err, apierr.ErrMissingCredential) {
		t.Errorf("expected missing credential, got %v", err)
	}
}

func TestFormService_ListFormsRacingRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")
	oldKey := form.APIKey

	reached, release := f.store.gateFinds(oldKey)
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ListForms(ctx, oldKey)
		done <- err
	}()

	// the listing has read the old pair from the store; rotate underneath it
	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("ListForms never reached the store")
	}
	if _, err := f.svc.RotateKey(ctx, form.ID, oldKey); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, apierr.ErrInvalidCredential) {
			t.Fatalf("rotated-out key must not list forms, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListForms did not return")
	}

	if f.resolver.Size() != 0 {
		t.Error("rotated-out key must not stay cached")
	}
	if _, err := f.svc.ListForms(ctx, oldKey); !errors.Is(err, apierr.ErrInvalidCredential) {
		t.Fatalf("rotated-out key listed forms on retry: %v", err)
	}
}

func TestFormService_DeleteSubmissionsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	form := f.createForm(t, "owner1")
	f.svc.Submit(ctx, form.ID, SubmitInput{Fields: db.Fields{"a": 1}})

	n, err := f.svc.DeleteSubmissions(ctx, form.ID, form.APIKey)
	if err != nil || n != 1 {
		t.Fatalf("DeleteSubmissions = %d, %v", n, err)
	}

	got := f.audit.actions()
	want := []string{"form_create", "submissions_delete"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("audit actions = %v, want %v", got, want)
	}
}

func TestFormService_CreateFormValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateForm(context.Background(), "operator", "", "")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || len(apiErr.Details) != 2 {
		t.Fatalf("expected two validation problems, got %v", err)
	}
}
