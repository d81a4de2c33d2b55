// Package httpmw holds the HTTP middleware shared by the site and ops
// listeners: client identity resolution, request ids, request-scoped
// logging, body limits, panic recovery, and response headers.
package httpmw
