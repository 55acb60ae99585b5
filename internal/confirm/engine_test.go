package confirm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/feedhive/feedhive/internal/audit"
	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/permission"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedParser returns a fixed parse result regardless of input.
type scriptedParser struct {
	result *command.ParseResult
}

func (p *scriptedParser) Parse(_ context.Context, _, _ string) (*command.ParseResult, error) {
	return p.result, nil
}

// countingDispatcher records every dispatched command.
type countingDispatcher struct {
	calls  []command.Command
	result *DispatchResult
	err    error
}

func (d *countingDispatcher) Dispatch(_ context.Context, _, _ string, cmd command.Command) (*DispatchResult, error) {
	d.calls = append(d.calls, cmd)
	if d.err != nil {
		return nil, d.err
	}
	if d.result != nil {
		return d.result, nil
	}
	return &DispatchResult{OK: true, Message: "done"}, nil
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, audit.Event) error { return nil }
func (nopAudit) Close() error                           { return nil }

type stubResolver struct{}

func (stubResolver) ResolveBotID(_ context.Context, _, _ string) (*int64, error) {
	id := int64(1)
	return &id, nil
}

// stubOverrides is a canned permission.OverrideStore.
type stubOverrides struct {
	overrides []permission.Override
	err       error
}

func (s *stubOverrides) List(_ context.Context, _ string, scope permission.Scope, _ *int64) ([]permission.Override, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []permission.Override
	for _, ov := range s.overrides {
		if ov.Scope == scope {
			out = append(out, ov)
		}
	}
	return out, nil
}

func (s *stubOverrides) Upsert(_ context.Context, ov permission.Override) error {
	s.overrides = append(s.overrides, ov)
	return nil
}

func (s *stubOverrides) Delete(_ context.Context, _ string, _ permission.Scope, _ *int64, _ permission.Key) error {
	return nil
}

type engineFixture struct {
	engine     *Engine
	parser     *scriptedParser
	dispatcher *countingDispatcher
	grants     *permission.OneTimeGrants
	manager    *Manager
}

func newFixture(t *testing.T, store permission.OverrideStore) *engineFixture {
	t.Helper()
	logger := testLogger()
	parser := &scriptedParser{}
	dispatcher := &countingDispatcher{}
	grants := permission.NewOneTimeGrants(time.Minute, logger)
	manager := NewManager(time.Minute, logger)
	engine := NewEngine(
		parser,
		permission.NewEngine(store, logger),
		grants,
		manager,
		dispatcher,
		stubResolver{},
		nopAudit{},
		logger,
	)
	return &engineFixture{
		engine:     engine,
		parser:     parser,
		dispatcher: dispatcher,
		grants:     grants,
		manager:    manager,
	}
}

func disableKey(key permission.Key) permission.Override {
	off := false
	return permission.Override{
		UserID: "u1", Scope: permission.ScopeGlobal, Key: key,
		Patch: permission.Patch{Enabled: &off},
	}
}

func TestHandle_Clarification(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		ClarificationNeeded: true,
		ClarificationText:   "Which bot did you mean?",
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "???")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomeClarification {
		t.Errorf("kind = %q, want clarification", out.Kind)
	}
	if out.Text != "Which bot did you mean?" {
		t.Errorf("text = %q", out.Text)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Error("clarification must not dispatch")
	}
}

func TestHandle_ChatNeverGated(t *testing.T) {
	// Even a broken permission store cannot stop chat.
	f := newFixture(t, &stubOverrides{err: errors.New("db down")})
	f.parser.result = &command.ParseResult{
		Command: command.Command{Type: command.TypeChat, Confidence: 1.0},
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "hello")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomeExecuted {
		t.Errorf("kind = %q, want executed", out.Kind)
	}
	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(f.dispatcher.calls))
	}
}

func TestHandle_AutoAllowedExecutes(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:       command.TypeAddSource,
			BotKey:     "news",
			Args:       map[string]any{"url": "https://example.com/feed"},
			Confidence: 0.9,
		},
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "add source")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomeExecuted {
		t.Errorf("kind = %q, want executed", out.Kind)
	}
}

func TestHandle_AllowedButNeedsConfirmParks(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeRemoveSource,
			BotKey:       "news",
			Args:         map[string]any{"url": "https://example.com/feed"},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  "Remove https://example.com/feed?",
		},
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "remove source")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomePending {
		t.Fatalf("kind = %q, want pending", out.Kind)
	}
	if out.PendingID == "" {
		t.Error("pending outcome must carry an ID")
	}
	if out.Text != "Remove https://example.com/feed?" {
		t.Errorf("text = %q", out.Text)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Error("parked command must not dispatch yet")
	}
}

func TestHandle_ApprovalRequiredParks(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeAgentRun,
			Args:         map[string]any{"goal": "summarize today"},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  "Start an agent run?",
		},
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "agent: summarize today")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomePending {
		t.Fatalf("kind = %q, want pending", out.Kind)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Error("approval-required command must not dispatch before approval")
	}
}

func TestHandle_RunWithInlineScheduleParks(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:       command.TypeRunReport,
			BotKey:     "news",
			Args:       map[string]any{"schedule": "0 8 * * *"},
			Confidence: 0.9,
		},
	}

	// A plain report run is auto-allowed, but the inline schedule pulls the
	// command under SCHEDULE_WRITE, which requires approval by default.
	out, err := f.engine.Handle(context.Background(), "u1", "t1", "run news daily at 8")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomePending {
		t.Fatalf("kind = %q, want pending", out.Kind)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Fatal("scheduled run must not dispatch before approval")
	}

	confirmed, err := f.engine.Confirm(context.Background(), out.PendingID, true, "u1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Kind != OutcomeExecuted {
		t.Errorf("kind = %q, want executed", confirmed.Kind)
	}
	if len(f.dispatcher.calls) != 1 {
		t.Errorf("dispatch calls = %d, want 1", len(f.dispatcher.calls))
	}
}

func TestHandle_OneTimeGrantConsumed(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeAgentRun,
			Args:         map[string]any{"goal": "x"},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  "Start?",
		},
	}
	f.grants.Grant("u1", permission.KeyAgentRun)

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "agent: x")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomeExecuted {
		t.Fatalf("kind = %q, want executed via grant", out.Kind)
	}

	// The grant is single-use: the same command parks next time.
	out, err = f.engine.Handle(context.Background(), "u1", "t1", "agent: x")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomePending {
		t.Errorf("kind = %q, want pending after grant consumed", out.Kind)
	}
	if len(f.dispatcher.calls) != 1 {
		t.Errorf("dispatch calls = %d, want 1", len(f.dispatcher.calls))
	}
}

func TestHandle_DisabledKeyDenied(t *testing.T) {
	f := newFixture(t, &stubOverrides{overrides: []permission.Override{disableKey(permission.KeySourceWrite)}})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:       command.TypeAddSource,
			BotKey:     "news",
			Args:       map[string]any{"url": "https://example.com/feed"},
			Confidence: 0.9,
		},
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "add source")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomeDenied {
		t.Fatalf("kind = %q, want denied", out.Kind)
	}
	if out.Text == "" {
		t.Error("denial must carry a reason")
	}
	if len(f.dispatcher.calls) != 0 {
		t.Error("denied command must not dispatch")
	}
}

func TestHandle_StoreFailureDeniesGatedCommand(t *testing.T) {
	f := newFixture(t, &stubOverrides{err: errors.New("db down")})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:       command.TypeRunReport,
			BotKey:     "news",
			Confidence: 0.9,
		},
	}

	out, err := f.engine.Handle(context.Background(), "u1", "t1", "run report @news")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Kind != OutcomeDenied {
		t.Errorf("kind = %q, want denied on store failure", out.Kind)
	}
}

func TestConfirm_ApproveExecutesOnce(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeAgentRun,
			Args:         map[string]any{"goal": "x"},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  "Start?",
		},
	}

	parked, err := f.engine.Handle(context.Background(), "u1", "t1", "agent: x")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	out, err := f.engine.Confirm(context.Background(), parked.PendingID, true, "u1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Kind != OutcomeExecuted {
		t.Fatalf("kind = %q, want executed", out.Kind)
	}
	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(f.dispatcher.calls))
	}

	// Replaying the same approval must not execute again.
	_, err = f.engine.Confirm(context.Background(), parked.PendingID, true, "u1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("replay error = %v, want ErrNotFound", err)
	}
	if len(f.dispatcher.calls) != 1 {
		t.Errorf("dispatch calls after replay = %d, want 1", len(f.dispatcher.calls))
	}
}

func TestConfirm_DenyCancels(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	f.parser.result = &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeSetSchedule,
			BotKey:       "news",
			Args:         map[string]any{"cron": "0 8 * * *"},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  "Schedule daily at 08:00?",
		},
	}

	parked, err := f.engine.Handle(context.Background(), "u1", "t1", "schedule")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	out, err := f.engine.Confirm(context.Background(), parked.PendingID, false, "u1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Kind != OutcomeCancelled {
		t.Errorf("kind = %q, want cancelled", out.Kind)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Error("denied confirmation must never dispatch")
	}
}

func TestConfirm_UnknownID(t *testing.T) {
	f := newFixture(t, &stubOverrides{})
	_, err := f.engine.Confirm(context.Background(), "no-such-id", true, "u1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestConfirm_ExpiredFoldsIntoNotFound(t *testing.T) {
	logger := testLogger()
	parser := &scriptedParser{result: &command.ParseResult{
		Command: command.Command{
			Type:         command.TypeAgentRun,
			Args:         map[string]any{"goal": "x"},
			Confidence:   0.9,
			NeedsConfirm: true,
			ConfirmText:  "Start?",
		},
	}}
	dispatcher := &countingDispatcher{}
	engine := NewEngine(
		parser,
		permission.NewEngine(&stubOverrides{}, logger),
		permission.NewOneTimeGrants(time.Minute, logger),
		NewManager(time.Nanosecond, logger),
		dispatcher,
		stubResolver{},
		nopAudit{},
		logger,
	)

	parked, err := engine.Handle(context.Background(), "u1", "t1", "agent: x")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	time.Sleep(time.Millisecond)

	_, err = engine.Confirm(context.Background(), parked.PendingID, true, "u1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound for expired confirmation", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Error("expired confirmation must not dispatch")
	}
}

// --- Manager ---

func TestManager_ConsumeExactlyOnce(t *testing.T) {
	m := NewManager(time.Minute, testLogger())
	ctx := context.Background()

	id, err := m.Create(ctx, &CreateRequest{
		UserID:      "u1",
		Command:     command.Command{Type: command.TypeRunReport, BotKey: "news", Confidence: 1},
		ConfirmText: "Run?",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pc, err := m.Consume(ctx, id, true, "u1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if pc.Status != StatusConfirmed || pc.ResolvedBy != "u1" {
		t.Errorf("record = %+v", pc)
	}

	if _, err := m.Consume(ctx, id, true, "u1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second consume = %v, want ErrAlreadyResolved", err)
	}
}

func TestManager_GetMarksExpired(t *testing.T) {
	m := NewManager(time.Nanosecond, testLogger())
	ctx := context.Background()

	id, err := m.Create(ctx, &CreateRequest{UserID: "u1", Command: command.Command{Type: command.TypeChat, Confidence: 1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(time.Millisecond)

	pc, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pc.Status != StatusExpired {
		t.Errorf("status = %s, want expired", pc.Status)
	}
}

func TestManager_SweepEvictsOldRecords(t *testing.T) {
	m := NewManager(time.Nanosecond, testLogger())
	ctx := context.Background()

	id, err := m.Create(ctx, &CreateRequest{UserID: "u1", Command: command.Command{Type: command.TypeChat, Confidence: 1}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(time.Millisecond)
	m.Sweep(ctx)
	m.Sweep(ctx) // second pass evicts, past 2x TTL

	if _, err := m.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after sweep = %v, want ErrNotFound", err)
	}
}
