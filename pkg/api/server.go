package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/httputil"
	"github.com/ecoworks/retrofit/pkg/middleware"
	"github.com/ecoworks/retrofit/pkg/observability"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
	"github.com/ecoworks/retrofit/pkg/visibility"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
	maxBodyBytes     = 1 << 20
)

// Server routes HTTP requests to the mutation gateway and the
// visibility resolver.
type Server struct {
	store      store.Store
	gateway    *gateway.Gateway
	visibility *visibility.Resolver
	oracle     *oracle.Oracle
	auth       middleware.Authenticator
	metrics    *observability.Metrics
	log        logrus.FieldLogger
	router     *mux.Router
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithMetrics wires prometheus instrumentation into the request path.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithAuthenticator sets the token-to-principal resolver.
func WithAuthenticator(a middleware.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// NewServer creates the API server and registers all routes.
func NewServer(st store.Store, gw *gateway.Gateway, vis *visibility.Resolver, orc *oracle.Oracle, opts ...Option) *Server {
	s := &Server{
		store:      st,
		gateway:    gw,
		visibility: vis,
		oracle:     orc,
		auth:       middleware.NewStaticTokenAuthenticator(nil),
		log:        logrus.StandardLogger(),
		router:     mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	if s.metrics != nil {
		// Registered on the router so the matched route template is
		// available as the metric label.
		r.Use(s.instrument)
	}

	// Permission resolution
	r.HandleFunc("/v1/access/resolve", s.resolveAccess).Methods("POST")

	// Assessments
	r.HandleFunc("/v1/assessments", s.listAssessments).Methods("GET")
	r.HandleFunc("/v1/assessments", s.createAssessment).Methods("POST")
	r.HandleFunc("/v1/assessments/{id}", s.getAssessment).Methods("GET")
	r.HandleFunc("/v1/assessments/{id}", s.updateAssessment).Methods("PATCH")
	r.HandleFunc("/v1/assessments/{id}", s.deleteAssessment).Methods("DELETE")
	r.HandleFunc("/v1/assessments/{id}/data", s.updateAssessmentData).Methods("PUT")
	r.HandleFunc("/v1/assessments/{id}/status", s.setAssessmentStatus).Methods("PUT")
	r.HandleFunc("/v1/assessments/{id}/duplicate", s.duplicateAssessment).Methods("POST")
	r.HandleFunc("/v1/assessments/{id}/reassign", s.reassignAssessment).Methods("POST")
	r.HandleFunc("/v1/assessments/{id}/shares", s.shareAssessment).Methods("POST")
	r.HandleFunc("/v1/assessments/{id}/shares/{principalID}", s.unshareAssessment).Methods("DELETE")

	// Images
	r.HandleFunc("/v1/assessments/{id}/images", s.listImages).Methods("GET")
	r.HandleFunc("/v1/assessments/{id}/images", s.attachImage).Methods("POST")
	r.HandleFunc("/v1/assessments/{id}/featured-image", s.setFeaturedImage).Methods("PUT")
	r.HandleFunc("/v1/images/{id}", s.deleteImage).Methods("DELETE")

	// Libraries
	r.HandleFunc("/v1/libraries", s.listLibraries).Methods("GET")
	r.HandleFunc("/v1/libraries", s.createLibrary).Methods("POST")
	r.HandleFunc("/v1/libraries/{id}", s.getLibrary).Methods("GET")
	r.HandleFunc("/v1/libraries/{id}", s.updateLibrary).Methods("PATCH")
	r.HandleFunc("/v1/libraries/{id}", s.deleteLibrary).Methods("DELETE")
	r.HandleFunc("/v1/libraries/{id}/shares", s.shareLibrary).Methods("POST")
	r.HandleFunc("/v1/libraries/{id}/shares/{orgID}", s.unshareLibrary).Methods("DELETE")

	// Organisations
	r.HandleFunc("/v1/organisations", s.listOrganisations).Methods("GET")
	r.HandleFunc("/v1/organisations", s.createOrganisation).Methods("POST")
	r.HandleFunc("/v1/organisations/{id}", s.getOrganisation).Methods("GET")
	r.HandleFunc("/v1/organisations/{id}", s.deleteOrganisation).Methods("DELETE")
	r.HandleFunc("/v1/organisations/{id}/assessments", s.listOrganisationAssessments).Methods("GET")
	r.HandleFunc("/v1/organisations/{id}/members", s.addMember).Methods("POST")
	r.HandleFunc("/v1/organisations/{id}/members/{principalID}", s.removeMember).Methods("DELETE")
	r.HandleFunc("/v1/organisations/{id}/librarians", s.promoteLibrarian).Methods("POST")
	r.HandleFunc("/v1/organisations/{id}/librarians/{principalID}", s.demoteLibrarian).Methods("DELETE")

	// Directory
	r.HandleFunc("/v1/principals", s.listPrincipals).Methods("GET")
}

// Handler returns the fully wrapped handler: request id, principal
// extraction, logging, panic recovery, body limits, tracing and
// per-route metrics.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = httputil.Chain(
		httputil.RequestIDMiddleware,
		middleware.PrincipalMiddleware(s.auth),
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware(s.log),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(h)
	return otelhttp.NewHandler(h, "retrofit.api")
}

// Router exposes the raw router for tests.
func (s *Server) Router() *mux.Router { return s.router }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, fmt.Sprintf("%d", rec.status)).Inc()
	})
}

func (s *Server) principal(r *http.Request) string {
	return middleware.GetPrincipalID(r)
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	offset, limit, err := httputil.ParsePage(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return store.Page{}, false
	}
	return store.Page{Offset: offset, Limit: limit}, true
}
