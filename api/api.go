// Package api exposes the CA platform over HTTP: CMP confirmation exchange,
// enrollment and revocation, partitioned CRL distribution, and admin group
// management.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/ca"
	"github.com/jmcleod/palisade/crl"
	"github.com/jmcleod/palisade/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo      storage.Repository
	engine    *authz.Engine
	authority *ca.Authority
	crl       *crl.Manager
	audit     *auditLogger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// New creates a new API instance.
func New(repo storage.Repository, engine *authz.Engine, authority *ca.Authority, crlManager *crl.Manager, opts ...Option) *API {
	a := &API{
		repo:      repo,
		engine:    engine,
		authority: authority,
		crl:       crlManager,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	// CMP transport (RFC 6712). Authenticated by message-level protection,
	// not by API tokens.
	r.Post("/cmp", a.CMPExchange)

	// Relying parties fetch CRLs anonymously.
	r.Get("/cas/{caName}/crl", a.GetCRL)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)

		r.Get("/cas", a.ListCAs)
		r.Post("/cas", a.CreateCA)
		r.Get("/cas/{caName}", a.GetCAInfo)
		r.Post("/cas/{caName}/enroll", a.Enroll)
		r.Post("/cas/{caName}/revoke", a.Revoke)
		r.Get("/cas/{caName}/certificates", a.ListCertificates)
		r.Get("/cas/{caName}/certificates/{serial}", a.GetCertificate)

		r.Put("/cas/{caName}/crl/config", a.ConfigureCRL)
		r.Post("/cas/{caName}/crl/{partition}/flush", a.FlushCRL)
		r.Post("/cas/{caName}/crl/{partition}/suspend", a.SuspendPartition)
		r.Post("/cas/{caName}/crl/{partition}/resume", a.ResumePartition)

		r.Get("/admin/groups", a.ListGroups)
		r.Post("/admin/groups", a.CreateGroup)
		r.Delete("/admin/groups/{groupName}", a.DeleteGroup)
		r.Post("/admin/groups/{groupName}/members", a.AddMember)
		r.Delete("/admin/groups/{groupName}/members/{member}", a.RemoveMember)
		r.Get("/admin/groups/{groupName}/rules", a.ListRules)
		r.Put("/admin/groups/{groupName}/rules", a.ChangeRules)

		r.Post("/admin/tokens", a.CreateToken)
	})

	return r
}
