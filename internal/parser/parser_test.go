package parser

import (
	"context"
	"testing"

	"github.com/feedhive/feedhive/internal/command"
)

func parse(t *testing.T, text string) *command.ParseResult {
	t.Helper()
	p := NewRuleParser(nil)
	res, err := p.Parse(context.Background(), text, "user-1")
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", text, err)
	}
	return res
}

func TestParse_Chat(t *testing.T) {
	res := parse(t, "what did @news-bot find yesterday?")
	if res.ClarificationNeeded {
		t.Fatalf("unexpected clarification: %s", res.ClarificationText)
	}
	if res.Command.Type != command.TypeChat {
		t.Fatalf("type = %q, want chat", res.Command.Type)
	}
	if res.Command.BotKey != "news-bot" {
		t.Errorf("bot key = %q, want news-bot", res.Command.BotKey)
	}
	if res.Command.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", res.Command.Confidence)
	}
}

func TestParse_EmptyText(t *testing.T) {
	res := parse(t, "   ")
	if !res.ClarificationNeeded {
		t.Fatal("expected clarification for empty text")
	}
}

func TestParse_RunReport(t *testing.T) {
	res := parse(t, "run report for @ai-news")
	if res.Command.Type != command.TypeRunReport {
		t.Fatalf("type = %q, want run_report", res.Command.Type)
	}
	if res.Command.BotKey != "ai-news" {
		t.Errorf("bot key = %q", res.Command.BotKey)
	}
	if err := res.Command.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_RunReport_NoBot(t *testing.T) {
	res := parse(t, "run report please")
	if !res.ClarificationNeeded {
		t.Fatal("expected clarification when no bot is addressed")
	}
}

func TestParse_AddSource(t *testing.T) {
	res := parse(t, "add source https://example.com/feed.xml to @ai-news")
	if res.ClarificationNeeded {
		t.Fatalf("unexpected clarification: %s", res.ClarificationText)
	}
	if res.Command.Type != command.TypeAddSource {
		t.Fatalf("type = %q, want add_source", res.Command.Type)
	}
	if got := res.Command.Args["url"]; got != "https://example.com/feed.xml" {
		t.Errorf("url = %v", got)
	}
	if res.Command.NeedsConfirm {
		t.Error("add_source should not force confirmation")
	}
}

func TestParse_AddSource_MissingURL(t *testing.T) {
	res := parse(t, "add source to @ai-news")
	if !res.ClarificationNeeded {
		t.Fatal("expected clarification when no URL present")
	}
}

func TestParse_RemoveSource_NeedsConfirm(t *testing.T) {
	res := parse(t, "remove source https://example.com/feed.xml from @ai-news")
	if res.Command.Type != command.TypeRemoveSource {
		t.Fatalf("type = %q, want remove_source", res.Command.Type)
	}
	if !res.Command.NeedsConfirm {
		t.Error("remove_source should request confirmation")
	}
	if res.Command.ConfirmText == "" {
		t.Error("confirm text missing")
	}
	if err := res.Command.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_SetSchedule_Cron(t *testing.T) {
	res := parse(t, "schedule @ai-news at 30 7 * * 1")
	if res.Command.Type != command.TypeSetSchedule {
		t.Fatalf("type = %q, want set_schedule", res.Command.Type)
	}
	if got := res.Command.Args["cron"]; got != "30 7 * * 1" {
		t.Errorf("cron = %v", got)
	}
	if !res.Command.NeedsConfirm {
		t.Error("set_schedule should request confirmation")
	}
}

func TestParse_SetSchedule_Daily(t *testing.T) {
	res := parse(t, "schedule @ai-news daily")
	if got := res.Command.Args["cron"]; got != "0 8 * * *" {
		t.Errorf("cron = %v, want canonical daily expression", got)
	}
}

func TestParse_SetSchedule_NoTime(t *testing.T) {
	res := parse(t, "schedule @ai-news")
	if !res.ClarificationNeeded {
		t.Fatal("expected clarification when no cadence given")
	}
}

func TestParse_AgentRun(t *testing.T) {
	res := parse(t, "agent: collect the latest AI policy news and summarize it for @ai-news")
	if res.Command.Type != command.TypeAgentRun {
		t.Fatalf("type = %q, want agent_run", res.Command.Type)
	}
	goal, _ := res.Command.Args["goal"].(string)
	if goal == "" {
		t.Fatal("goal missing")
	}
	if !res.Command.NeedsConfirm {
		t.Error("agent_run should request confirmation")
	}
}

func TestParse_AgentRun_EmptyGoal(t *testing.T) {
	res := parse(t, "agent:")
	if !res.ClarificationNeeded {
		t.Fatal("expected clarification for empty goal")
	}
}

func TestParse_Deterministic(t *testing.T) {
	const text = "add source https://example.com/a.xml to @bot-a"
	first := parse(t, text)
	for i := 0; i < 5; i++ {
		again := parse(t, text)
		if again.Command.Type != first.Command.Type || again.Command.BotKey != first.Command.BotKey {
			t.Fatal("parser output varies across identical inputs")
		}
		if again.Command.Confidence != first.Command.Confidence {
			t.Fatal("confidence varies across identical inputs")
		}
		if again.Command.Args["url"] != first.Command.Args["url"] {
			t.Fatal("parsed arguments vary across identical inputs")
		}
	}
}
