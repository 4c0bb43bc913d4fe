// Package auth verifies bearer tokens issued by the external auth provider.
//
// The provider signs HS256 JWTs whose "sub" claim is the user id the chat UI
// sends as userId. When a secret is configured, Middleware rejects requests
// without a valid token and stores the subject in the request context.
// Handlers call Authorize to refuse a userId that differs from the subject.
//
// Without a secret no middleware is installed and userId is trusted as an
// opaque identifier.
package auth
