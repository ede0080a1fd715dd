// Package middleware provides the authentication and authorization HTTP
// middleware.
//
// AuthMiddleware validates "Authorization: Bearer <token>" through
// pkg/auth and stores an access.Session in the request context. With
// optional set, requests without the header get an anonymous session that
// can read public workspaces only.
//
//	authn := middleware.NewAuthMiddleware(tokens, evaluator, true)
//	router.Use(authn.Handler)
//
//	writes := router.NewRoute().Subrouter()
//	writes.Use(middleware.RequireUser)
//
// RequireUser turns anonymous sessions away with 401 before the handler
// runs. Role checks stay in the services, which assert on the same call
// path as the read or write they guard.
package middleware
