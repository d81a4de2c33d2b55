// Package ratelimit contains the two in-process limiters used by the server.
//
// WindowLimiter is a fixed-window counter keyed by client identity. It backs
// the lead submission endpoint, where the product rule is "N submissions per
// window per client" and callers want to report the remaining budget.
//
// IPLimiter is a token-bucket flood limiter applied site-wide as middleware.
// It protects the process from a single IP exhausting connections, and is
// deliberately vague in its responses.
//
// Both are process-local. Nothing here is shared between instances; upstream
// filtering is still the first line of defense.
package ratelimit
