// Package hooks runs registered handlers on session lifecycle events:
// session_start, session_completed and session_terminated.
//
// Handlers run in registration order with a per-handler timeout. A
// configured webhook URL registers a handler that POSTs the event as JSON.
package hooks
