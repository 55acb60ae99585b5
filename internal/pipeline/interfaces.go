package pipeline

import (
	"context"

	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/llm"
)

// BotStore resolves bots and their linked sources.
type BotStore interface {
	GetByKey(ctx context.Context, userID, botKey string) (*domain.Bot, error)
	ListSources(ctx context.Context, botID int64) ([]domain.Source, error)
}

// ProfileStore binds bots to report topics. GetOrCreate must be idempotent
// under concurrent invocation; the storage layer enforces uniqueness on
// (bot_id, topic), so two racing first runs resolve to the same profile.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, botID int64, topic string) (*domain.ReportProfile, error)
}

// CollectOutput summarizes a collection pass over a bot's sources.
type CollectOutput struct {
	NewItems     int
	SourcesTried int
}

// Collector fetches and persists new items from the bot's RSS sources.
// External domain operation: success/failure contract only.
type Collector interface {
	Collect(ctx context.Context, bot *domain.Bot, sources []domain.Source) (*CollectOutput, error)
}

// AnalysisOutput is the result of running collected content through the LLM.
type AnalysisOutput struct {
	Summary   string
	ItemCount int
}

// Analyzer runs collected items through the LLM. MaxEgress bounds how much
// content the analyzer may send to the provider.
type Analyzer interface {
	Analyze(ctx context.Context, bot *domain.Bot, profile *domain.ReportProfile, provider llm.Provider, maxEgress string) (*AnalysisOutput, error)
}

// Reporter renders and persists a report from an analysis.
type Reporter interface {
	Generate(ctx context.Context, bot *domain.Bot, profile *domain.ReportProfile, analysis *AnalysisOutput) (*domain.Report, error)
}

// ScheduleWriter persists a recurring run for a bot.
type ScheduleWriter interface {
	Ensure(ctx context.Context, bot *domain.Bot, userID, cronExpression string) error
}
