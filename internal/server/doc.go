// Package server provides HTTP routing, middleware, and the ingestion
// endpoints.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first),
// following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with
// method-qualified patterns.
//
// # Endpoints
//
// Import submission and status, signed asynchronous task delivery for import
// processing, single-user and fleet polling, listening stats, and the
// background-tracking toggle. The task-delivery endpoint verifies an
// HMAC-SHA256 signature over the raw request body before trusting the
// payload; combined with the job state machine's claim guard this makes
// at-least-once redelivery safe.
//
// # OAuth Callback Handler
//
// OAuthHandler implements the authorization code callback flow used by the
// CLI login command: it validates the state parameter, exchanges the code
// through the streaming service, and sends the result over a channel. It
// only processes one callback to prevent replay attacks.
package server
