package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/db"
	"github.com/fastsubmit/formgate/internal/middleware"
	"github.com/fastsubmit/formgate/internal/service"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Submit.MaxBodyBytes)

	fields, err := parseSubmission(r, s.cfg.Submit.MaxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sub, err := s.forms.Submit(r.Context(), formID(r), service.SubmitInput{
		Fields:    fields,
		IP:        middleware.ClientIP(r, s.cfg.App.TrustProxy),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := map[string]any{"success": true}
	if sub != nil {
		body["id"] = sub.ID
	}
	writeJSON(w, http.StatusCreated, body)
}

// parseSubmission reads JSON, urlencoded and multipart bodies into fields.
// Repeated form values are kept as lists; uploaded files are ignored.
func parseSubmission(r *http.Request, maxBytes int64) (db.Fields, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, apierr.Invalid("Content-Type must be application/json, application/x-www-form-urlencoded or multipart/form-data")
	}

	switch mediaType {
	case "application/json":
		var fields db.Fields
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, bodyErr(err, "body must be a JSON object")
		}
		return fields, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyErr(err, "malformed form body")
		}
		return fromValues(r.PostForm), nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, bodyErr(err, "malformed multipart body")
		}
		return fromValues(r.MultipartForm.Value), nil
	}
	return nil, apierr.Invalid("Content-Type must be application/json, application/x-www-form-urlencoded or multipart/form-data")
}

func fromValues(values url.Values) db.Fields {
	fields := make(db.Fields, len(values))
	for k, v := range values {
		switch len(v) {
		case 0:
		case 1:
			fields[k] = v[0]
		default:
			fields[k] = v
		}
	}
	return fields
}

func bodyErr(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierr.ErrPayloadTooLarge
	}
	return apierr.Invalid(msg)
}
