package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fastsubmit/formgate/internal/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics records request counts, latencies and in-flight requests. Routes
// are labelled by their mux template so path ids do not explode cardinality.
func Metrics(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			collector.RequestStarted()
			defer collector.RequestFinished()

			rw := newStatusRecorder(w)
			next.ServeHTTP(rw, r)

			collector.ObserveRequest(r.Method, routeTemplate(r), rw.statusCode, time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return unmatchedRoute
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return tpl
}
