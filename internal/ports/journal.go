package ports

import "github.com/channelaccess/snapshot/internal/domain"

type JournalEntryID uint64

// Journal is the local append-only log of finished operations.
type Journal interface {
	Append(r *domain.Report) (JournalEntryID, error)
	Iterate(from JournalEntryID, fn func(id JournalEntryID, r *domain.Report) error) error
	Stats() JournalStats
	Close() error
}

type JournalStats struct {
	Entries   uint64
	LatestID  JournalEntryID
	SizeBytes int64
}
