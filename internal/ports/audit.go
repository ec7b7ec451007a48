package ports

import (
	"context"

	"github.com/channelaccess/snapshot/internal/domain"
)

// AuditSink persists the outcome of finished operations. Records carry
// per-PV statuses only, never PV values.
type AuditSink interface {
	Record(ctx context.Context, r *domain.Report) error
	Name() string
}
