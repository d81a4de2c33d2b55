package content

import (
	"io/fs"
	"time"
)

// Snapshot is one immutable view of the site content. Handlers resolve a
// snapshot once per request and serve from it even if a swap happens
// mid-request.
type Snapshot struct {
	FS       fs.FS
	Meta     Meta
	LoadedAt time.Time
}
