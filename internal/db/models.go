package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Form is the resource guarded by an API key. Deleted forms are kept and
// flagged rather than removed.
type Form struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"ownerId" db:"owner_id"`
	Name        string    `json:"name" db:"name"`
	APIKey      string    `json:"-" db:"api_key"`
	RedirectURL string    `json:"redirectUrl,omitempty" db:"redirect_url"`
	NotifyEmail string    `json:"notifyEmail,omitempty" db:"notify_email"`
	Deleted     bool      `json:"-" db:"deleted"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// Clone returns a copy safe to hand out of a store.
func (f *Form) Clone() *Form {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

type Submission struct {
	ID        string    `json:"id" db:"id"`
	FormID    string    `json:"formId" db:"form_id"`
	Data      Fields    `json:"data" db:"data"`
	IP        string    `json:"ip,omitempty" db:"ip"`
	UserAgent string    `json:"userAgent,omitempty" db:"user_agent"`
	Referer   string    `json:"referer,omitempty" db:"referer"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Clone returns a copy whose Data shares nothing with s.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Data = s.Data.Clone()
	return &cp
}

// Fields holds submitted form values; persisted as a JSON column.
type Fields map[string]any

// Clone deep-copies f, including nested slices and maps.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		return map[string]any(Fields(t).Clone())
	case Fields:
		return t.Clone()
	default:
		return v
	}
}

func (f Fields) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *Fields) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = Fields{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("fields: unsupported column type %T", src)
	}
	out := Fields{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	*f = out
	return nil
}
