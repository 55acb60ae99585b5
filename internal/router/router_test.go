package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSources struct {
	added   []string
	removed []string
	err     error
}

func (s *stubSources) Add(_ context.Context, _ int64, feedURL string) error {
	if s.err != nil {
		return s.err
	}
	s.added = append(s.added, feedURL)
	return nil
}

func (s *stubSources) Remove(_ context.Context, _ int64, feedURL string) error {
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, feedURL)
	return nil
}

type stubSchedules struct {
	ensured []string
}

func (s *stubSchedules) Ensure(_ context.Context, _ int64, _, cronExpression string) error {
	s.ensured = append(s.ensured, cronExpression)
	return nil
}

// knownBots resolves the "news" key to bot 1 and fails everything else.
type knownBots struct{}

func (knownBots) ResolveBotID(_ context.Context, _, botKey string) (*int64, error) {
	if botKey == "news" {
		id := int64(1)
		return &id, nil
	}
	return nil, errors.New("bot not found")
}

type echoProvider struct{}

func (echoProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: "echo: " + req.Messages[0].Content}, nil
}
func (echoProvider) Name() string { return "echo" }

func newRouter(t *testing.T, sources *stubSources, schedules *stubSchedules) *Router {
	t.Helper()
	resolver := llm.NewResolver()
	resolver.Register("echo", echoProvider{})
	return New(nil, nil, sources, schedules, knownBots{}, resolver, testLogger())
}

func TestDispatch_Chat(t *testing.T) {
	r := newRouter(t, &stubSources{}, &stubSchedules{})

	res, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeChat,
		Args:       map[string]any{"text": "hello"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.OK || res.Message != "echo: hello" {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatch_ChatWithoutProvider(t *testing.T) {
	r := New(nil, nil, &stubSources{}, &stubSchedules{}, knownBots{}, llm.NewResolver(), testLogger())

	res, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeChat,
		Args:       map[string]any{"text": "hello"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.OK {
		t.Error("chat without a provider must report failure, not succeed")
	}
}

func TestDispatch_AddSource(t *testing.T) {
	sources := &stubSources{}
	r := newRouter(t, sources, &stubSchedules{})

	res, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeAddSource,
		BotKey:     "news",
		Args:       map[string]any{"url": "https://example.com/feed.xml"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if len(sources.added) != 1 || sources.added[0] != "https://example.com/feed.xml" {
		t.Errorf("added = %v", sources.added)
	}
}

func TestDispatch_RemoveSource(t *testing.T) {
	sources := &stubSources{}
	r := newRouter(t, sources, &stubSchedules{})

	res, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeRemoveSource,
		BotKey:     "news",
		Args:       map[string]any{"url": "https://example.com/feed.xml"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.OK || len(sources.removed) != 1 {
		t.Errorf("result = %+v, removed = %v", res, sources.removed)
	}
}

func TestDispatch_SourceRejectsBadURL(t *testing.T) {
	r := newRouter(t, &stubSources{}, &stubSchedules{})

	for _, bad := range []string{"", "not a url", "ftp://example.com/feed", "javascript:alert(1)"} {
		_, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
			Type:       command.TypeAddSource,
			BotKey:     "news",
			Args:       map[string]any{"url": bad},
			Confidence: 1,
		})
		if !errors.Is(err, command.ErrValidation) {
			t.Errorf("url %q: error = %v, want ErrValidation", bad, err)
		}
	}
}

func TestDispatch_SourceUnknownBot(t *testing.T) {
	sources := &stubSources{}
	r := newRouter(t, sources, &stubSchedules{})

	res, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeAddSource,
		BotKey:     "ghost",
		Args:       map[string]any{"url": "https://example.com/feed.xml"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.OK {
		t.Error("unknown bot must not succeed")
	}
	if len(sources.added) != 0 {
		t.Error("nothing should be added for an unknown bot")
	}
}

func TestDispatch_SetSchedule(t *testing.T) {
	schedules := &stubSchedules{}
	r := newRouter(t, &stubSources{}, schedules)

	res, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeSetSchedule,
		BotKey:     "news",
		Args:       map[string]any{"cron": "0 8 * * *"},
		Confidence: 1,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.OK || len(schedules.ensured) != 1 || schedules.ensured[0] != "0 8 * * *" {
		t.Errorf("result = %+v, ensured = %v", res, schedules.ensured)
	}
}

func TestDispatch_SetScheduleRejectsBadCron(t *testing.T) {
	r := newRouter(t, &stubSources{}, &stubSchedules{})

	for _, bad := range []string{"", "not cron", "61 8 * * *", "0 8 * *"} {
		_, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
			Type:       command.TypeSetSchedule,
			BotKey:     "news",
			Args:       map[string]any{"cron": bad},
			Confidence: 1,
		})
		if !errors.Is(err, command.ErrValidation) {
			t.Errorf("cron %q: error = %v, want ErrValidation", bad, err)
		}
	}
}

func TestDispatch_AgentRunRequiresGoal(t *testing.T) {
	r := newRouter(t, &stubSources{}, &stubSchedules{})

	_, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.TypeAgentRun,
		Confidence: 1,
	})
	if !errors.Is(err, command.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	r := newRouter(t, &stubSources{}, &stubSchedules{})

	_, err := r.Dispatch(context.Background(), "u1", "t1", command.Command{
		Type:       command.Type("teleport"),
		Confidence: 1,
	})
	if !errors.Is(err, command.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}
