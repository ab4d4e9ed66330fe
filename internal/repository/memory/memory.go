package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/repository"
)

type MemoryRepository struct {
	forms       map[string]*db.Form
	submissions map[string][]*db.Submission // formID -> submissions, insertion order
	mu          sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		forms:       make(map[string]*db.Form),
		submissions: make(map[string][]*db.Submission),
	}
}

// Form Repo Implementation
func (r *MemoryRepository) GetForm(ctx context.Context, id string) (*db.Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.forms[id]; ok {
		return f.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) FindFormByAPIKey(ctx context.Context, key string) (*db.Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Map order is random; pick the oldest match so duplicates resolve deterministically.
	var match *db.Form
	for _, f := range r.forms {
		if f.Deleted || f.APIKey != key {
			continue
		}
		if match == nil || f.CreatedAt.Before(match.CreatedAt) {
			match = f
		}
	}
	if match == nil {
		return nil, repository.ErrNotFound
	}
	return match.Clone(), nil
}

func (r *MemoryRepository) ListFormsByOwner(ctx context.Context, ownerID string) ([]*db.Form, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []*db.Form
	for _, f := range r.forms {
		if f.OwnerID == ownerID && !f.Deleted {
			list = append(list, f.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (r *MemoryRepository) CreateForm(ctx context.Context, form *db.Form) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms[form.ID] = form.Clone()
	return nil
}

func (r *MemoryRepository) UpdateForm(ctx context.Context, form *db.Form) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forms[form.ID]; !ok {
		return repository.ErrNotFound
	}
	r.forms[form.ID] = form.Clone()
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

// Submission Repo Implementation
func (r *MemoryRepository) CreateSubmission(ctx context.Context, s *db.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions[s.FormID] = append(r.submissions[s.FormID], s.Clone())
	return nil
}

func (r *MemoryRepository) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]*db.Submission, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.submissions[formID]
	total := len(all)
	var page []*db.Submission
	// newest first
	for i := total - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, all[i].Clone())
	}
	return page, total, nil
}

func (r *MemoryRepository) DeleteSubmissions(ctx context.Context, formID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.submissions[formID])
	delete(r.submissions, formID)
	return n, nil
}

func (r *MemoryRepository) Close() error { return nil }

// Interface check
var _ repository.Store = (*MemoryRepository)(nil)
