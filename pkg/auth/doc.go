// Package auth provides the request-authentication gatekeeper used in front
// of StricklySoft platform services.
//
// Pipeline:
//
// Every inbound request runs through the same linear state machine:
//
//	START -> EXTRACT_TOKEN -> VALIDATE -> RESOLVE_PROFILE -> ACCEPT
//
// and is rejected at the first failing stage. Extraction reads the
// "Authorization: Bearer <token>" header ([ExtractBearerToken]). Validation
// verifies the JWT signature against a fixed public key and checks that the
// token's scope grants the service name ([Validator]). Profile resolution
// fetches the user profile from the identity provider ([ProfileResolver]).
// The [Gatekeeper] drives the pipeline and attaches the token, claims and
// profile to the [Request] on success.
//
// Caching:
//
// Validated claims and fetched profiles are held in a per-process
// [cache.Credentials] keyed by the SHA-256 of the token, so repeat requests
// neither re-verify signatures nor call the identity provider. Concurrent
// misses for the same token are coalesced.
//
// Transports:
//
// [HTTPMiddleware] and the gRPC [UnaryServerInterceptor] and
// [StreamServerInterceptor] adapt the gatekeeper to net/http and gRPC.
// Rejections are uniform and never expose the underlying cause.
package auth
