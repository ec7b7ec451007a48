package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/channelaccess/snapshot/internal/domain"
	"github.com/channelaccess/snapshot/internal/ports"
)

func report(id string, kind domain.OperationKind) *domain.Report {
	start := time.Unix(1700000000, 0).UTC()
	return &domain.Report{
		ID:       id,
		Kind:     kind,
		Path:     "/data/" + id + ".snap",
		Started:  start,
		Finished: start.Add(time.Second),
		Results: []domain.PVResult{
			{Name: "pv:a", Status: domain.StatusOK},
			{Name: "pv:b", Status: domain.StatusTimeout, Message: "not connected before deadline"},
		},
	}
}

func TestFileJournalAppendIterateAndReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	id1, err := j.Append(report("op-1", domain.OpSave))
	if err != nil || id1 != 1 {
		t.Fatalf("append report 1: %v id=%d", err, id1)
	}
	if err := j.Record(context.Background(), report("op-2", domain.OpRestore)); err != nil {
		t.Fatalf("record report 2: %v", err)
	}

	var ids []string
	if err := j.Iterate(1, func(id ports.JournalEntryID, r *domain.Report) error {
		ids = append(ids, r.ID)
		if r.Results[1].Status != domain.StatusTimeout {
			t.Fatalf("status not preserved: %+v", r.Results[1])
		}
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(ids) != 2 || ids[0] != "op-1" || ids[1] != "op-2" {
		t.Fatalf("unexpected reports %v", ids)
	}

	var fromTwo int
	_ = j.Iterate(2, func(ports.JournalEntryID, *domain.Report) error { fromTwo++; return nil })
	if fromTwo != 1 {
		t.Fatalf("expected 1 report from id 2, got %d", fromTwo)
	}

	stats := j.Stats()
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := j.Append(report("late", domain.OpSave)); err == nil {
		t.Fatalf("expected append after close to fail")
	}

	// A torn tail record must be dropped on reopen.
	if err := appendGarbage(filepath.Join(dir, journalFile)); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	j2, err := NewFileJournal(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer j2.Close()

	if got := j2.Stats(); got != stats {
		t.Fatalf("expected stats %+v after reopen, got %+v", stats, got)
	}
	id3, err := j2.Append(report("op-3", domain.OpSave))
	if err != nil || id3 != 3 {
		t.Fatalf("append after reopen: %v id=%d", err, id3)
	}
}

func TestFileJournalIterateStopsOnCallbackError(t *testing.T) {
	j, err := NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	defer j.Close()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := j.Append(report(id, domain.OpSave)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stop := errors.New("stop")
	var seen int
	err = j.Iterate(1, func(ports.JournalEntryID, *domain.Report) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Fatalf("expected iteration to stop after first entry, seen=%d err=%v", seen, err)
	}
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x01, 0x00, '{'})
	return err
}
