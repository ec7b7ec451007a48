package ports

import (
	"context"

	"github.com/channelaccess/snapshot/internal/domain"
)

// Connector opens an independent session for one save or restore. Sessions
// never share handles, so concurrent operations cannot interfere.
type Connector interface {
	Open(ctx context.Context) (Session, error)
}

// Session owns every channel created during one operation.
type Session interface {
	// Connect blocks until the PV is connected or ctx is done.
	Connect(ctx context.Context, name domain.PvName) (Channel, error)
	// Close releases client-library resources. Calls still in flight must
	// return promptly once Close is called.
	Close() error
}

// Channel is a connected PV handle.
type Channel interface {
	Name() domain.PvName
	IsConnected() bool
	Read(ctx context.Context) (domain.Value, error)
	Write(ctx context.Context, v domain.Value) error
	Release() error
}
