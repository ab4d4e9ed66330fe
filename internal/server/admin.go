package server

import (
	"net/http"
	"time"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/audit"
	"github.com/fastsubmit/formgate/internal/config"
	"github.com/fastsubmit/formgate/internal/limiter"
	"github.com/fastsubmit/formgate/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin exchanges operator credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.operator.Login(req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     token,
		"tokenType": "Bearer",
		"expiresIn": int64(s.cfg.JWT.TTL.Seconds()),
	})
}

type createFormRequest struct {
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`
}

// handleAdminCreateForm issues a form for an owner. The key is only ever
// returned here and by rotate-key.
func (s *Server) handleAdminCreateForm(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	form, err := s.forms.CreateForm(r.Context(), middleware.Operator(r.Context()), req.OwnerID, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"form":    form,
		"apiKey":  form.APIKey,
	})
}

type limitClass struct {
	MaxRequests int   `json:"maxRequests"`
	WindowMs    int64 `json:"windowMs"`
}

type limitsBody struct {
	Submit     limitClass `json:"submit"`
	Management limitClass `json:"management"`
}

func toBody(c config.LimitClasses) limitsBody {
	return limitsBody{
		Submit:     limitClass{MaxRequests: c.Submit.MaxRequests, WindowMs: c.Submit.Window.Milliseconds()},
		Management: limitClass{MaxRequests: c.Management.MaxRequests, WindowMs: c.Management.Window.Milliseconds()},
	}
}

func (b limitsBody) classes() config.LimitClasses {
	return config.LimitClasses{
		Submit:     limiter.Class{MaxRequests: b.Submit.MaxRequests, Window: time.Duration(b.Submit.WindowMs) * time.Millisecond},
		Management: limiter.Class{MaxRequests: b.Management.MaxRequests, Window: time.Duration(b.Management.WindowMs) * time.Millisecond},
	}
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "limits": toBody(s.state.Limits().Get())})
}

// handleUpdateLimits replaces both rate limit classes at runtime.
func (s *Server) handleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsBody
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.state.Limits().Update(req.classes()); err != nil {
		s.writeError(w, r, apierr.Invalid(err.Error()))
		return
	}

	current := toBody(s.state.Limits().Get())
	s.audit.Log(audit.LogEntry{
		ActorID:  middleware.Operator(r.Context()),
		Action:   "limits_reload",
		Resource: "config:rate_limit",
		Status:   http.StatusOK,
		Metadata: map[string]interface{}{
			"submit_max":        current.Submit.MaxRequests,
			"submit_window":     current.Submit.WindowMs,
			"management_max":    current.Management.MaxRequests,
			"management_window": current.Management.WindowMs,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "limits": current})
}
