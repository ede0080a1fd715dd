// Package api exposes workspaces, memberships and issues over HTTP.
//
// Every request runs under an access.Session built by the auth middleware
// from a bearer token; requests without a token run anonymously. Handlers
// never decide access themselves. They call into pkg/access and pkg/issues
// and write whatever error comes back through httputil.WriteAccessError, so
// a missing or deleted workspace is 404, an anonymous caller who falls short
// is 401 and anyone else who falls short is 403.
//
// # Routes
//
//	GET    /healthz, /readyz, /metrics
//	GET    /workspaces                     ?organization_id=N, ?deleted=true
//	POST   /workspaces
//	DELETE /workspaces/{id}
//	PATCH  /workspaces/{id}/visibility
//	GET    /workspaces/{id}/role
//	POST   /workspaces/{id}/members
//	PATCH  /workspaces/{id}/members/{userID}
//	DELETE /workspaces/{id}/members/{userID}
//	(same member routes under /organizations/{id} and /teams/{id})
//	GET    /workspaces/{id}/issues
//	GET    /issues/{id}
//
// # Usage
//
//	server := api.NewServer(api.Config{
//		Store:       store,
//		Memberships: memberships,
//		Issues:      issueService,
//		Auth:        middleware.NewAuthMiddleware(tokens, evaluator, true),
//		Health:      health,
//		Metrics:     metrics,
//		Gatherer:    registry,
//		Logger:      logger,
//	})
//	http.ListenAndServe(":8080", server.Handler())
package api
