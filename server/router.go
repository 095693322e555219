package server

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// router wires every endpoint named in spec §6 onto a gorilla/mux mux,
// generalized from the teacher's handle/handleFunc/handleWithCORS closures
// in server/server.go.
type router struct {
	mux *mux.Router
}

func newRouter(s *Server) *router {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()

	instrument := instrumentFunc(s.cfg.PrometheusRegistry)
	handle := func(path string, h http.HandlerFunc) {
		var handler http.Handler = instrument(path, h)
		if len(s.cfg.AllowedOrigins) > 0 {
			cors := handlers.CORS(
				handlers.AllowedOrigins(s.cfg.AllowedOrigins),
				handlers.AllowedHeaders(s.cfg.AllowedHeaders),
			)
			handler = cors(handler)
		}
		r.Handle(path, withRequestContext(handler))
	}

	handle("/.well-known/openid-configuration", s.handleDiscovery)
	handle("/oauth/jwks", s.handleJWKS)
	handle("/oauth/authorize", s.handleAuthorize)
	handle("/oauth/token", s.handleToken)
	handle("/oauth/userinfo", s.handleUserinfo)
	handle("/oauth/logout", s.handleLogout)

	if !s.cfg.DisableRevocationEndpoint {
		handle("/oauth/revoke", s.handleRevoke)
	}
	if !s.cfg.DisableIntrospectionEndpoint {
		handle("/oauth/introspect", s.handleIntrospect)
	}
	if s.cfg.EnableDeviceAuthorizationGrant {
		handle("/oauth/device_authorization", s.handleDeviceAuthorization)
	}
	if s.cfg.EnableRegistrationEndpoint {
		handle("/oauth/register", s.handleRegister)
	}

	handle("/oauth/interaction/login", s.handleLoginInteraction)
	handle("/oauth/interaction/consent", s.handleConsentInteraction)
	handle("/oauth/interaction/select_account", s.handleSelectAccountInteraction)
	handle("/oauth/interaction/create", s.handleCreateInteraction)
	handle("/oauth/interaction/logout", s.handleLogoutInteraction)

	r.NotFoundHandler = http.NotFoundHandler()
	return &router{mux: r}
}

func (r *router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// ServeHTTP lets *Server itself be used directly as an http.Handler, e.g.
// with http.ListenAndServe(addr, server).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// instrumentFunc mirrors the teacher's Prometheus instrumentation closure:
// request count, duration, and response size histograms per handler name.
func instrumentFunc(reg *prometheus.Registry) func(name string, h http.HandlerFunc) http.Handler {
	if reg == nil {
		return func(_ string, h http.HandlerFunc) http.Handler { return h }
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"code", "method", "handler"})
	durationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "A histogram of latencies for requests.",
		Buckets: []float64{.25, .5, 1, 2.5, 5, 10},
	}, []string{"code", "method", "handler"})
	sizeHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "response_size_bytes",
		Help:    "A histogram of response sizes for requests.",
		Buckets: []float64{200, 500, 900, 1500},
	}, []string{"code", "method", "handler"})
	reg.MustRegister(requestCounter, durationHist, sizeHist)

	return func(name string, h http.HandlerFunc) http.Handler {
		return promhttp.InstrumentHandlerDuration(durationHist.MustCurryWith(prometheus.Labels{"handler": name}),
			promhttp.InstrumentHandlerCounter(requestCounter.MustCurryWith(prometheus.Labels{"handler": name}),
				promhttp.InstrumentHandlerResponseSize(sizeHist.MustCurryWith(prometheus.Labels{"handler": name}), h),
			),
		)
	}
}

// requestTimeout bounds how long a handler may block on store I/O before
// the request is cancelled, per spec §5's cancellation/timeout requirement.
const requestTimeout = 30 * time.Second
