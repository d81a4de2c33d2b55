// Package content manages the site's static content: an embedded seed that
// ships in the binary, and optional signed bundles pulled from S3 whose
// current hash is published in an SSM parameter. Bundles are extracted to
// in-memory filesystems and hot-swapped atomically, so the server never
// serves a half-updated site and never needs disk.
package content
