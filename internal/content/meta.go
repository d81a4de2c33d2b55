package content

import "time"

// Source identifies where the active content came from.
type Source string

const (
	SourceUnknown  Source = "unknown"
	SourceEmbedded Source = "embedded"
	SourceS3       Source = "s3"
)

type Meta struct {
	Version    string    `json:"version,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
	Source     Source    `json:"source,omitempty"`
}
