package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJSONLLogger_AppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewJSONLLogger(path, testLogger())
	if err != nil {
		t.Fatalf("NewJSONLLogger: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	events := []Event{
		{UserID: "u1", EventType: EventPermissionDenied, PermissionKey: "WEB_FETCH"},
		{UserID: "u1", EventType: EventApprovalGranted, PermissionKey: "WEB_FETCH"},
		{UserID: "u2", EventType: EventCommandExecuted},
	}
	for _, ev := range events {
		if err := l.Log(ctx, ev); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != len(events) {
		t.Fatalf("lines = %d, want %d", len(got), len(events))
	}
	for i, ev := range got {
		if ev.EventType != events[i].EventType || ev.UserID != events[i].UserID {
			t.Errorf("line %d = %+v", i, ev)
		}
		if ev.CreatedAt.IsZero() {
			t.Errorf("line %d missing created_at", i)
		}
	}
}

func TestJSONLLogger_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewJSONLLogger(path, testLogger())
	if err != nil {
		t.Fatalf("NewJSONLLogger: %v", err)
	}
	defer l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

type failingLogger struct {
	calls int
}

func (f *failingLogger) Log(context.Context, Event) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingLogger) Close() error { return nil }

func TestBestEffort_SwallowsFailures(t *testing.T) {
	inner := &failingLogger{}
	b := NewBestEffort(inner, testLogger())

	if err := b.Log(context.Background(), Event{UserID: "u1", EventType: EventCommandExecuted}); err != nil {
		t.Errorf("Log = %v, want nil despite inner failure", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d", inner.calls)
	}
}

func TestBestEffort_NilInnerIsNoop(t *testing.T) {
	b := NewBestEffort(nil, testLogger())
	if err := b.Log(context.Background(), Event{}); err != nil {
		t.Errorf("Log = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
