package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/middleware"
	"github.com/fastsubmit/formgate/internal/service"
)

const maxJSONBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err and logs upstream failures with their cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.From(err)
	if e.Kind == apierr.Internal {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(e.Err),
		)
	}
	apierr.Write(w, e)
}

// decodeJSON reads a bounded JSON object into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierr.ErrPayloadTooLarge
		}
		return apierr.Invalid("request body must be a valid JSON object")
	}
	return nil
}

func formID(r *http.Request) string {
	return mux.Vars(r)["formId"]
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	forms, err := s.forms.ListForms(r.Context(), middleware.APIKey(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if forms == nil {
		forms = []*db.Form{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "forms": forms})
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.forms.GetForm(r.Context(), formID(r), middleware.APIKey(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "form": form})
}

func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	var in service.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	form, err := s.forms.UpdateForm(r.Context(), formID(r), middleware.APIKey(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "form": form})
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.forms.DeleteForm(r.Context(), formID(r), middleware.APIKey(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.forms.RotateKey(r.Context(), formID(r), middleware.APIKey(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "apiKey": key})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.forms.ListSubmissions(r.Context(), formID(r), middleware.APIKey(r.Context()), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"submissions": page.Submissions,
		"total":       page.Total,
	})
}

func (s *Server) handleDeleteSubmissions(w http.ResponseWriter, r *http.Request) {
	n, err := s.forms.DeleteSubmissions(r.Context(), formID(r), middleware.APIKey(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	var problems []string
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			problems = append(problems, "limit must be a positive integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			problems = append(problems, "offset must be a non-negative integer")
		}
	}
	if len(problems) > 0 {
		return 0, 0, apierr.Invalid(problems...)
	}
	return limit, offset, nil
}
