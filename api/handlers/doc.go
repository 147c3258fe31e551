// Package handlers exposes the privacy subsystem as a JSON API under
// /api/v1.
//
// Every route requires a bearer JWT signed with the daemon's HS256 secret.
// Tokens carry scopes: "operator" reaches every route, "auditor" only
// compliance verification and disclosure reports. Websocket clients of
// /api/v1/events may pass the token as the access_token query parameter.
//
// Component errors map to statuses as follows: unknown, revoked and expired
// records are 404; malformed paths, roles and requests are 400; conflicts
// with existing state such as a revoked parent key are 409; missing or
// failed approvals and key mismatches are 403.
package handlers
