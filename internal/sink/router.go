// Package sink implements block path routing.
package sink

import (
	"fmt"
	"time"

	"github.com/jittakal/kafspill/pkg/record"
	"github.com/jittakal/kafspill/pkg/spill"
)

// Ensure implementation satisfies interface at compile time.
var _ spill.Router = (*DefaultRouter)(nil)

// DefaultRouter implements Hive-style partitioning for block paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new block path router.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: basePath,
	}
}

// Route returns the path prefix for a partition at the given Unix timestamp.
// Format: protocol://bucket/basePath/dt=YYYY-MM-DD/pid=N/
// The date comes from the spill timestamp so replays of old data land under
// the day they were spilled, not the day they were produced.
func (r *DefaultRouter) Route(partition record.PartitionID, timestamp int64) string {
	t := time.Unix(timestamp, 0).UTC()
	date := t.Format("2006-01-02")

	return fmt.Sprintf("%s://%s/%s/dt=%s/pid=%d/",
		r.protocol,
		r.bucket,
		r.basePath,
		date,
		partition,
	)
}
