package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastsubmit/formgate/internal/apierr"
	"github.com/fastsubmit/formgate/internal/middleware"
)

// routes builds the router. Preflight requests are answered by the CORS
// policy of their endpoint class before rate limiting or authentication.
func (s *Server) routes() *mux.Router {
	trust := s.cfg.App.TrustProxy
	policies := s.state.CORS()

	// mux runs r.Use middleware on matched routes only; the fallback
	// handlers are wrapped with the same chain explicitly.
	ambient := []middleware.Middleware{
		middleware.RequestID,
		middleware.AccessLog(s.logger.Named("http"), trust),
		middleware.Metrics(s.metrics),
		middleware.SecureHeaders(s.cfg.App.Env == "production"),
	}

	r := mux.NewRouter()
	for _, mw := range ambient {
		r.Use(mux.MiddlewareFunc(mw))
	}

	submitLimit := middleware.RateLimit(s.state.AdmitSubmit, middleware.IPIdentity(trust))
	apiLimit := middleware.RateLimit(s.state.AdmitManagement, middleware.KeyIdentity(trust))
	loginLimit := middleware.RateLimit(s.state.AdmitManagement, middleware.IPIdentity(trust))

	public := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, policies.Public.Handler, submitLimit)
	}
	api := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, policies.Management.Handler, apiLimit, middleware.RequireAPIKey)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, policies.Management.Handler, loginLimit, middleware.RequireOperator(s.operator))
	}

	r.Handle("/api/submit/{formId}", public(s.handleSubmit)).Methods(http.MethodPost)

	r.Handle("/api/v1/forms", api(s.handleListForms)).Methods(http.MethodGet)
	r.Handle("/api/v1/forms/{formId}", api(s.handleGetForm)).Methods(http.MethodGet)
	r.Handle("/api/v1/forms/{formId}", api(s.handleUpdateForm)).Methods(http.MethodPut)
	r.Handle("/api/v1/forms/{formId}", api(s.handleDeleteForm)).Methods(http.MethodDelete)
	r.Handle("/api/v1/forms/{formId}/rotate-key", api(s.handleRotateKey)).Methods(http.MethodPost)
	r.Handle("/api/v1/forms/{formId}/submissions", api(s.handleListSubmissions)).Methods(http.MethodGet)
	r.Handle("/api/v1/forms/{formId}/submissions", api(s.handleDeleteSubmissions)).Methods(http.MethodDelete)

	r.Handle("/api/auth/token", middleware.Chain(http.HandlerFunc(s.handleLogin),
		policies.Management.Handler, loginLimit)).Methods(http.MethodPost)
	r.Handle("/api/admin/forms", admin(s.handleAdminCreateForm)).Methods(http.MethodPost)
	r.Handle("/api/admin/limits", admin(s.handleGetLimits)).Methods(http.MethodGet)
	r.Handle("/api/admin/limits", admin(s.handleUpdateLimits)).Methods(http.MethodPut)

	r.PathPrefix("/api/submit/").Methods(http.MethodOptions).HandlerFunc(policies.Public.Preflight)
	r.PathPrefix("/api/").Methods(http.MethodOptions).HandlerFunc(policies.Management.Preflight)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = middleware.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteBody(w, http.StatusNotFound, apierr.Body{Error: "Not found"})
	}), ambient...)
	r.MethodNotAllowedHandler = middleware.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteBody(w, http.StatusMethodNotAllowed, apierr.Body{Error: "Method not allowed"})
	}), ambient...)
	return r
}
