package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/audit"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/issues"
	"github.com/platinummonkey/trellis/pkg/middleware"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// WorkspaceStore lists workspaces. access.Store implements it.
type WorkspaceStore interface {
	ListWorkspacesForUser(ctx context.Context, userID int64) ([]*model.Workspace, error)
	ListOrganizationWorkspaces(ctx context.Context, organizationID int64) ([]*model.Workspace, error)
	ListDeletedWorkspaces(ctx context.Context, userID int64) ([]*model.Workspace, error)
}

// Config holds the server's collaborators. Health, Metrics and Gatherer are
// optional; their routes are skipped when unset. A nil Audit discards audit
// events.
type Config struct {
	Store        WorkspaceStore
	Memberships  *access.Memberships
	Issues       *issues.Service
	Auth         *middleware.AuthMiddleware
	Audit        audit.Logger
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *observability.Logger
	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	router       *mux.Router
	store        WorkspaceStore
	memberships  *access.Memberships
	issues       *issues.Service
	auth         *middleware.AuthMiddleware
	audit        audit.Logger
	health       *observability.HealthChecker
	metrics      *observability.Metrics
	gatherer     prometheus.Gatherer
	logger       *observability.Logger
	maxBodyBytes int64
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		store:        cfg.Store,
		memberships:  cfg.Memberships,
		issues:       cfg.Issues,
		auth:         cfg.Auth,
		audit:        cfg.Audit,
		health:       cfg.Health,
		metrics:      cfg.Metrics,
		gatherer:     cfg.Gatherer,
		logger:       cfg.Logger,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if s.logger == nil {
		s.logger = observability.FromContext(context.Background())
	}
	if s.audit == nil {
		s.audit = audit.NoOp()
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = 1 << 20
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	}
	if s.gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.gatherer)).Methods("GET")
	}

	api := s.router.NewRoute().Subrouter()
	api.Use(s.auth.Handler)

	// Reads. Anonymous sessions reach public workspaces.
	api.HandleFunc("/workspaces", s.listWorkspaces).Methods("GET")
	api.HandleFunc("/workspaces/{id}/role", s.getEffectiveRole).Methods("GET")
	api.HandleFunc("/workspaces/{id}/issues", s.listWorkspaceIssues).Methods("GET")
	api.HandleFunc("/issues/{id}", s.getIssue).Methods("GET")

	// Writes need an identity.
	writes := api.NewRoute().Subrouter()
	writes.Use(middleware.RequireUser)

	writes.HandleFunc("/workspaces", s.createWorkspace).Methods("POST")
	writes.HandleFunc("/workspaces/{id}", s.deleteWorkspace).Methods("DELETE")
	writes.HandleFunc("/workspaces/{id}/visibility", s.updateVisibility).Methods("PATCH")

	registerMemberRoutes(writes, "/workspaces", memberOps[roles.WorkspaceRole]{
		add:    s.memberships.AddWorkspaceMember,
		update: s.memberships.UpdateWorkspaceMemberRole,
		remove: s.memberships.RemoveWorkspaceMember,
	})
	registerMemberRoutes(writes, "/organizations", memberOps[roles.OrganizationRole]{
		add:    s.memberships.AddOrganizationMember,
		update: s.memberships.UpdateOrganizationMemberRole,
		remove: s.memberships.RemoveOrganizationMember,
	})
	registerMemberRoutes(writes, "/teams", memberOps[roles.TeamRole]{
		add:    s.memberships.AddTeamMember,
		update: s.memberships.UpdateTeamMemberRole,
		remove: s.memberships.RemoveTeamMember,
	})
}

// Handler returns the router wrapped in the request middleware chain and
// OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.AuditMiddleware(s.audit),
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(s.maxBodyBytes),
		httputil.ContentTypeMiddleware,
	)
	return otelhttp.NewHandler(chain(s.router), "trellis-api")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// session returns the request's session, writing 401 when the request never
// went through the auth middleware.
func session(w http.ResponseWriter, r *http.Request) (*access.Session, bool) {
	sess := middleware.GetSession(r)
	if sess == nil {
		httputil.WriteAccessError(w, r, access.Unauthenticated())
		return nil, false
	}
	return sess, true
}
