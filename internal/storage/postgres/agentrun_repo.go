package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/feedhive/feedhive/internal/agentrun"
)

// AgentRunRepository implements agentrun.RunStore. Finalization is a
// conditional UPDATE on finished_at IS NULL, so a run can only be finalized
// once.
type AgentRunRepository struct {
	db *gorm.DB
}

// NewAgentRunRepository creates an agent run repository.
func NewAgentRunRepository(db *gorm.DB) *AgentRunRepository {
	return &AgentRunRepository{db: db}
}

var _ agentrun.RunStore = (*AgentRunRepository)(nil)

func (r *AgentRunRepository) CreateRun(ctx context.Context, run *agentrun.Run) error {
	model := runToModel(run)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AgentRunRepository) AppendStep(ctx context.Context, runID string, rec agentrun.StepRecord) error {
	model := AgentRunStepModel{
		RunID:      runID,
		StepIndex:  rec.StepIndex,
		ToolKey:    rec.ToolKey,
		Status:     string(rec.Status),
		Detail:     rec.Detail,
		DurationMS: rec.DurationMS,
		StartedAt:  rec.StartedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AgentRunRepository) FinalizeRun(ctx context.Context, run *agentrun.Run) error {
	res := r.db.WithContext(ctx).Model(&AgentRunModel{}).
		Where("run_id = ? AND finished_at IS NULL", run.RunID).
		Updates(map[string]any{
			"status":          string(run.Status),
			"reason":          run.Reason,
			"summary":         run.Summary,
			"step_count":      run.StepCount,
			"tool_call_count": run.ToolCallCount,
			"llm_call_count":  run.LLMCallCount,
			"risk_used":       run.RiskUsed,
			"finished_at":     run.FinishedAt,
			"duration_ms":     run.DurationMS,
		})
	if res.Error != nil {
		return fmt.Errorf("finalizing agent run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var model AgentRunModel
		err := r.db.WithContext(ctx).First(&model, "run_id = ?", run.RunID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return agentrun.ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("loading agent run: %w", err)
		}
		return agentrun.ErrRunFinalized
	}
	return nil
}

func (r *AgentRunRepository) GetRun(ctx context.Context, runID string) (*agentrun.Run, []agentrun.StepRecord, error) {
	var model AgentRunModel
	err := r.db.WithContext(ctx).First(&model, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, agentrun.ErrRunNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading agent run: %w", err)
	}

	var stepModels []AgentRunStepModel
	err = r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index ASC").
		Find(&stepModels).Error
	if err != nil {
		return nil, nil, fmt.Errorf("loading agent run steps: %w", err)
	}

	steps := make([]agentrun.StepRecord, 0, len(stepModels))
	for _, m := range stepModels {
		steps = append(steps, agentrun.StepRecord{
			StepIndex:  m.StepIndex,
			ToolKey:    m.ToolKey,
			Status:     agentrun.StepStatus(m.Status),
			Detail:     m.Detail,
			DurationMS: m.DurationMS,
			StartedAt:  m.StartedAt,
		})
	}
	run := runFromModel(model)
	return &run, steps, nil
}

func (r *AgentRunRepository) ListRuns(ctx context.Context, userID string, limit int) ([]agentrun.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []AgentRunModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing agent runs: %w", err)
	}

	out := make([]agentrun.Run, 0, len(models))
	for _, m := range models {
		out = append(out, runFromModel(m))
	}
	return out, nil
}

func runToModel(run *agentrun.Run) AgentRunModel {
	return AgentRunModel{
		RunID:         run.RunID,
		UserID:        run.UserID,
		BotID:         run.BotID,
		Goal:          run.Goal,
		PlanID:        run.PlanID,
		Status:        string(run.Status),
		Reason:        run.Reason,
		Summary:       run.Summary,
		StepCount:     run.StepCount,
		ToolCallCount: run.ToolCallCount,
		LLMCallCount:  run.LLMCallCount,
		RiskUsed:      run.RiskUsed,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		DurationMS:    run.DurationMS,
	}
}

func runFromModel(m AgentRunModel) agentrun.Run {
	return agentrun.Run{
		RunID:         m.RunID,
		UserID:        m.UserID,
		BotID:         m.BotID,
		Goal:          m.Goal,
		PlanID:        m.PlanID,
		Status:        agentrun.Status(m.Status),
		Reason:        m.Reason,
		Summary:       m.Summary,
		StepCount:     m.StepCount,
		ToolCallCount: m.ToolCallCount,
		LLMCallCount:  m.LLMCallCount,
		RiskUsed:      m.RiskUsed,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
		DurationMS:    m.DurationMS,
	}
}
