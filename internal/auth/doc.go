// Package auth authenticates support-gateway users.
//
// # Tokens
//
// Users present HS256 JWTs signed with the configured auth.jwt_secret. The
// "sub" claim carries the numeric user ID; tokens issued by the storefront
// with a numeric "userId" claim are accepted too. JWTVerifier.Generate
// issues tokens for the CLI.
//
// # Middleware
//
// Authenticator verifies a token, checks the optional redis Denylist and
// loads the user from the store. HTTPAuthMiddleware reads the Authorization
// header; WebSocketAuthMiddleware also accepts a ?token= query parameter
// because browsers cannot set headers on an upgrade request. Both attach an
// AuthContext retrievable with FromContext.
package auth
