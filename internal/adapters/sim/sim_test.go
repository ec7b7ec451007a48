package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/channelaccess/snapshot/internal/domain"
)

func TestConnectReadWrite(t *testing.T) {
	b := New(WithValue("pv:a", domain.Number(1)))
	sess, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ch, err := sess.Connect(context.Background(), "pv:a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !ch.IsConnected() {
		t.Fatalf("expected channel to be connected")
	}
	if err := ch.Write(context.Background(), domain.Number(7)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, err := ch.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !v.Equal(domain.Number(7)) {
		t.Fatalf("expected 7, got %v", v)
	}
	if got := b.Writes(); len(got) != 1 || got[0].Name != "pv:a" {
		t.Fatalf("unexpected writes %+v", got)
	}

	_ = ch.Release()
	if ch.IsConnected() {
		t.Fatalf("expected released channel to be disconnected")
	}
	if _, err := ch.Read(context.Background()); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after release, got %v", err)
	}
	if live := b.Stats().ChannelsLive; live != 0 {
		t.Fatalf("expected no live channels, got %d", live)
	}
}

func TestWriteTypeMismatch(t *testing.T) {
	b := New(WithValue("pv:a", domain.Number(1)))
	sess, _ := b.Open(context.Background())
	defer sess.Close()

	ch, err := sess.Connect(context.Background(), "pv:a")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Release()

	err = ch.Write(context.Background(), domain.String("x"))
	if !errors.Is(err, domain.ErrTypeMismatch) || !errors.Is(err, domain.ErrWrite) {
		t.Fatalf("expected write type mismatch, got %v", err)
	}
}

func TestUnreachableHonoursContext(t *testing.T) {
	b := New(WithValue("pv:a", domain.Number(1)), WithUnreachable("pv:a"))
	sess, _ := b.Open(context.Background())
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sess.Connect(ctx, "pv:a")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("connect did not return promptly")
	}
}

func TestIgnoreCancelReleasedByClose(t *testing.T) {
	b := New(WithIgnoreCancel())
	sess, _ := b.Open(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := sess.Connect(ctx, "pv:missing")
		done <- err
	}()

	select {
	case <-done:
		t.Fatalf("connect returned before session close")
	case <-time.After(20 * time.Millisecond):
	}

	_ = sess.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("connect still blocked after close")
	}
	if st := b.Stats(); st.SessionsOpened != 1 || st.SessionsClosed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		raw  any
		want domain.Value
	}{
		{nil, domain.NoData()},
		{20, domain.Number(20)},
		{2.5, domain.Number(2.5)},
		{"on", domain.String("on")},
		{true, domain.Number(1)},
		{[]any{1, 2.5}, domain.Sequence([]float64{1, 2.5})},
	}
	for _, tt := range tests {
		got, err := ValueOf(tt.raw)
		if err != nil {
			t.Fatalf("ValueOf(%v): %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ValueOf(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if _, err := ValueOf([]any{"x"}); !errors.Is(err, domain.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}
