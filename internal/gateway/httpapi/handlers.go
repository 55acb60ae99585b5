package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/feedhive/feedhive/internal/agentrun"
	"github.com/feedhive/feedhive/internal/command"
	"github.com/feedhive/feedhive/internal/confirm"
	"github.com/feedhive/feedhive/internal/domain"
	"github.com/feedhive/feedhive/internal/permission"
	"github.com/jkaninda/okapi"
)

// --- Command handlers ---

// CommandRequest is the JSON body for POST /v1/commands.
type CommandRequest struct {
	Text     string `json:"text"`
	ThreadID string `json:"thread_id,omitempty"` // Empty = new thread.
}

// CommandResponse is the JSON response for command and confirm endpoints.
type CommandResponse struct {
	Outcome       string         `json:"outcome"` // executed, pending, denied, cancelled, clarification.
	Message       string         `json:"message"`
	PendingID     string         `json:"pending_id,omitempty"` // Set when outcome is "pending".
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	ThreadID      string         `json:"thread_id,omitempty"`
}

func (g *Gateway) handleCommand(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("text is required")
	}
	if req.Text == "" {
		return c.AbortBadRequest("text is required")
	}

	correlationID := newCorrelationID()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = newCorrelationID()
	}

	g.logger.Info("http command",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("thread_id", threadID),
	)

	outcome, err := g.engine.Handle(c.Context(), userID, threadID, req.Text)
	if err != nil {
		if errors.Is(err, command.ErrValidation) {
			return c.AbortBadRequest(err.Error())
		}
		g.logger.Error("command handling failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("command handling failed")
	}

	resp := commandResponse(outcome, correlationID, threadID)
	if outcome.Kind == confirm.OutcomePending {
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.OK(resp)
}

// ConfirmRequest is the JSON body for POST /v1/confirm.
type ConfirmRequest struct {
	PendingID string `json:"pending_id"`
	Decision  string `json:"decision"` // "approve" or "deny"
}

func (g *Gateway) handleConfirm(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.PendingID == "" {
		return c.AbortBadRequest("pending_id is required")
	}
	if req.Decision != "approve" && req.Decision != "deny" {
		return c.AbortBadRequest("decision must be \"approve\" or \"deny\"")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http confirm",
		slog.String("user_id", userID),
		slog.String("pending_id", req.PendingID),
		slog.String("decision", req.Decision),
	)

	outcome, err := g.engine.Confirm(c.Context(), req.PendingID, req.Decision == "approve", userID)
	if err != nil {
		return confirmError(c, err)
	}
	return c.OK(commandResponse(outcome, correlationID, ""))
}

func commandResponse(outcome *confirm.Outcome, correlationID, threadID string) CommandResponse {
	resp := CommandResponse{
		Outcome:       string(outcome.Kind),
		Message:       outcome.Text,
		PendingID:     outcome.PendingID,
		CorrelationID: correlationID,
		ThreadID:      threadID,
	}
	if outcome.Result != nil {
		resp.Data = outcome.Result.Data
	}
	return resp
}

// confirmError maps confirmation errors to appropriate HTTP responses.
// The engine folds expired and already-resolved records into not-found so a
// replayed approval cannot learn whether the first one executed.
func confirmError(c *okapi.Context, err error) error {
	if errors.Is(err, confirm.ErrNotFound) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "pending confirmation not found"})
	}
	return c.AbortInternalServerError("confirmation failed")
}

// --- Permission handlers ---

// PermissionResponse is one effective permission in GET /v1/permissions.
type PermissionResponse struct {
	Key    string           `json:"key"`
	Value  permission.Value `json:"value"`
	Source string           `json:"source"` // Layer that produced the value: default, global, bot.
	Risk   string           `json:"risk"`
}

func (g *Gateway) handlePermissionList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var botID *int64
	if botKey := c.Request().URL.Query().Get("bot_key"); botKey != "" {
		id, err := g.store.Bots().ResolveBotID(c.Context(), userID, botKey)
		if err != nil {
			return c.AbortInternalServerError("resolving bot failed")
		}
		if id == nil {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "bot not found"})
		}
		botID = id
	}

	effective, err := g.perms.EffectivePermissions(c.Context(), userID, botID)
	if err != nil {
		return c.AbortInternalServerError("resolving permissions failed")
	}

	resp := make([]PermissionResponse, 0, len(effective))
	for _, k := range permission.Keys() {
		p := effective[k]
		resp = append(resp, PermissionResponse{
			Key:    string(p.Key),
			Value:  p.Value,
			Source: string(p.Source),
			Risk:   p.Risk.String(),
		})
	}
	return c.OK(resp)
}

// OverrideRequest is the JSON body for PUT and DELETE /v1/permissions.
// Patch is ignored on DELETE.
type OverrideRequest struct {
	Scope  string           `json:"scope"`             // "global" or "bot".
	BotKey string           `json:"bot_key,omitempty"` // Required when scope is "bot".
	Key    string           `json:"key"`
	Patch  permission.Patch `json:"patch"`
}

func (g *Gateway) handlePermissionSet(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	req, scope, botID, err := g.bindOverride(c, userID)
	if err != nil {
		return err
	}
	if req.Patch.IsZero() {
		return c.AbortBadRequest("patch overrides nothing")
	}

	if err := g.perms.SetOverride(c.Context(), permission.Override{
		UserID:  userID,
		Scope:   scope,
		ScopeID: botID,
		Key:     permission.Key(req.Key),
		Patch:   req.Patch,
	}); err != nil {
		if errors.Is(err, permission.ErrUnknownKey) {
			return c.AbortBadRequest(err.Error())
		}
		return c.AbortInternalServerError("saving override failed")
	}

	g.logger.Info("permission override set",
		slog.String("user_id", userID),
		slog.String("scope", string(scope)),
		slog.String("key", req.Key),
	)
	return c.OK(okapi.M{"status": "ok"})
}

func (g *Gateway) handlePermissionClear(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	req, scope, botID, err := g.bindOverride(c, userID)
	if err != nil {
		return err
	}

	if err := g.perms.ClearOverride(c.Context(), userID, scope, botID, permission.Key(req.Key)); err != nil {
		if errors.Is(err, permission.ErrUnknownKey) {
			return c.AbortBadRequest(err.Error())
		}
		return c.AbortInternalServerError("clearing override failed")
	}

	g.logger.Info("permission override cleared",
		slog.String("user_id", userID),
		slog.String("scope", string(scope)),
		slog.String("key", req.Key),
	)
	return c.OK(okapi.M{"status": "ok"})
}

// bindOverride parses and validates the shared override identifier fields.
func (g *Gateway) bindOverride(c *okapi.Context, userID string) (OverrideRequest, permission.Scope, *int64, error) {
	var req OverrideRequest
	if err := c.Bind(&req); err != nil {
		return req, "", nil, c.AbortBadRequest("invalid request body")
	}
	if req.Key == "" {
		return req, "", nil, c.AbortBadRequest("key is required")
	}

	scope := permission.Scope(req.Scope)
	switch scope {
	case permission.ScopeGlobal:
		return req, scope, nil, nil
	case permission.ScopeBot:
		if req.BotKey == "" {
			return req, "", nil, c.AbortBadRequest("bot_key is required for bot scope")
		}
		botID, err := g.store.Bots().ResolveBotID(c.Context(), userID, req.BotKey)
		if err != nil {
			return req, "", nil, c.AbortInternalServerError("resolving bot failed")
		}
		if botID == nil {
			return req, "", nil, c.JSON(http.StatusNotFound, okapi.M{"error": "bot not found"})
		}
		return req, scope, botID, nil
	default:
		return req, "", nil, c.AbortBadRequest("scope must be \"global\" or \"bot\"")
	}
}

// GrantRequest is the JSON body for POST /v1/permissions/grant.
type GrantRequest struct {
	Key string `json:"key"`
}

// handlePermissionGrant issues a one-time approval grant, the same kind a
// chat confirmation produces. The next check for the key consumes it.
func (g *Gateway) handlePermissionGrant(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	key := permission.Key(req.Key)
	if _, ok := permission.Lookup(key); !ok {
		return c.AbortBadRequest("unknown permission key")
	}

	g.grants.Grant(userID, key)
	g.logger.Info("one-time grant issued",
		slog.String("user_id", userID),
		slog.String("key", req.Key),
	)
	return c.OK(okapi.M{"status": "ok"})
}

// --- Agent run handlers ---

// AgentRunRequest is the JSON body for POST /v1/agent/runs.
type AgentRunRequest struct {
	Goal   string `json:"goal"`
	BotKey string `json:"bot_key,omitempty"`
}

// AgentRunResponse summarizes one agent run.
type AgentRunResponse struct {
	RunID      string     `json:"run_id"`
	Goal       string     `json:"goal"`
	PlanID     string     `json:"plan_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	StepCount  int        `json:"step_count"`
	RiskUsed   int        `json:"risk_used"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// AgentRunStepResponse is one step record in a run detail.
type AgentRunStepResponse struct {
	StepIndex  int       `json:"step_index"`
	ToolKey    string    `json:"tool_key"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// AgentRunDetailResponse is the JSON response for GET /v1/agent/runs/{id}.
type AgentRunDetailResponse struct {
	AgentRunResponse
	Steps []AgentRunStepResponse `json:"steps"`
}

func (g *Gateway) handleAgentRunSubmit(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req AgentRunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Goal == "" {
		return c.AbortBadRequest("goal is required")
	}

	var botID *int64
	if req.BotKey != "" {
		id, err := g.store.Bots().ResolveBotID(c.Context(), userID, req.BotKey)
		if err != nil {
			return c.AbortInternalServerError("resolving bot failed")
		}
		if id == nil {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "bot not found"})
		}
		botID = id
	}

	g.logger.Info("http agent run",
		slog.String("user_id", userID),
		slog.String("goal", req.Goal),
	)

	result, err := g.runner.Execute(c.Context(), userID, botID, req.Goal)
	if err != nil {
		g.logger.Error("agent run failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("agent run failed")
	}

	run, steps, err := g.runs.GetRun(c.Context(), result.RunID)
	if err != nil {
		return c.AbortInternalServerError("loading run failed")
	}
	return c.OK(runDetailResponse(run, steps))
}

func (g *Gateway) handleAgentRunList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	runs, err := g.runs.ListRuns(c.Context(), userID, limitParam(c, 20))
	if err != nil {
		return c.AbortInternalServerError("listing runs failed")
	}

	resp := make([]AgentRunResponse, len(runs))
	for i := range runs {
		resp[i] = runResponse(&runs[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleAgentRunGet(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	run, steps, err := g.runs.GetRun(c.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, agentrun.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
		}
		return c.AbortInternalServerError("loading run failed")
	}
	// Runs are scoped per user.
	if run.UserID != userID {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}
	return c.OK(runDetailResponse(run, steps))
}

func runResponse(run *agentrun.Run) AgentRunResponse {
	return AgentRunResponse{
		RunID:      run.RunID,
		Goal:       run.Goal,
		PlanID:     run.PlanID,
		Status:     string(run.Status),
		Reason:     run.Reason,
		Summary:    run.Summary,
		StepCount:  run.StepCount,
		RiskUsed:   run.RiskUsed,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMS: run.DurationMS,
	}
}

func runDetailResponse(run *agentrun.Run, steps []agentrun.StepRecord) AgentRunDetailResponse {
	resp := AgentRunDetailResponse{
		AgentRunResponse: runResponse(run),
		Steps:            make([]AgentRunStepResponse, len(steps)),
	}
	for i, s := range steps {
		resp.Steps[i] = AgentRunStepResponse{
			StepIndex:  s.StepIndex,
			ToolKey:    s.ToolKey,
			Status:     string(s.Status),
			Detail:     s.Detail,
			StartedAt:  s.StartedAt,
			DurationMS: s.DurationMS,
		}
	}
	return resp
}

// --- Bot read handlers ---

// SourceResponse is one RSS source in GET /v1/bots/{key}/sources.
type SourceResponse struct {
	ID        int64      `json:"id"`
	URL       string     `json:"url"`
	Title     string     `json:"title,omitempty"`
	Enabled   bool       `json:"enabled"`
	LastFetch *time.Time `json:"last_fetch,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ReportResponse is one published report in GET /v1/bots/{key}/reports.
type ReportResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
}

// JobRunResponse is one scheduled execution in GET /v1/bots/{key}/jobs.
type JobRunResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// MemoryResponse is one durable note in GET /v1/bots/{key}/memory.
type MemoryResponse struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *Gateway) handleSourceList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	bot, errResp := g.resolveBot(c, userID)
	if bot == nil {
		return errResp
	}

	sources, err := g.store.Bots().ListSources(c.Context(), bot.ID)
	if err != nil {
		return c.AbortInternalServerError("listing sources failed")
	}

	resp := make([]SourceResponse, len(sources))
	for i, s := range sources {
		resp[i] = SourceResponse{
			ID:        s.ID,
			URL:       s.URL,
			Title:     s.Title,
			Enabled:   s.Enabled,
			LastFetch: s.LastFetch,
			CreatedAt: s.CreatedAt,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleReportList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	bot, errResp := g.resolveBot(c, userID)
	if bot == nil {
		return errResp
	}

	reports, err := g.store.Reports().List(c.Context(), bot.ID, limitParam(c, 20))
	if err != nil {
		return c.AbortInternalServerError("listing reports failed")
	}

	resp := make([]ReportResponse, len(reports))
	for i, r := range reports {
		resp[i] = ReportResponse{
			ID:        r.ID.String(),
			Title:     r.Title,
			Body:      r.Body,
			ItemCount: r.ItemCount,
			CreatedAt: r.CreatedAt,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleJobRunList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	bot, errResp := g.resolveBot(c, userID)
	if bot == nil {
		return errResp
	}

	jobs, err := g.store.JobRuns().List(c.Context(), bot.ID, limitParam(c, 20))
	if err != nil {
		return c.AbortInternalServerError("listing job runs failed")
	}

	resp := make([]JobRunResponse, len(jobs))
	for i, j := range jobs {
		resp[i] = JobRunResponse{
			ID:           j.ID.String(),
			Status:       j.Status,
			StartedAt:    j.StartedAt,
			FinishedAt:   j.FinishedAt,
			DurationMS:   j.DurationMS,
			ErrorCode:    j.ErrorCode,
			ErrorMessage: j.ErrorMessage,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleMemoryList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	bot, errResp := g.resolveBot(c, userID)
	if bot == nil {
		return errResp
	}

	entries, err := g.store.Memory().List(c.Context(), bot.ID, limitParam(c, 50))
	if err != nil {
		return c.AbortInternalServerError("listing memory failed")
	}

	resp := make([]MemoryResponse, len(entries))
	for i, e := range entries {
		resp[i] = MemoryResponse{
			ID:        e.ID,
			Category:  e.Category,
			Content:   e.Content,
			CreatedAt: e.CreatedAt,
		}
	}
	return c.OK(resp)
}

// resolveBot loads the bot named by the {key} path parameter, scoped to the
// caller. Returns (nil, response) when the bot does not exist.
func (g *Gateway) resolveBot(c *okapi.Context, userID string) (*domain.Bot, error) {
	bot, err := g.store.Bots().GetByKey(c.Context(), userID, c.Param("key"))
	if err != nil {
		return nil, c.AbortInternalServerError("resolving bot failed")
	}
	if bot == nil {
		return nil, c.JSON(http.StatusNotFound, okapi.M{"error": "bot not found"})
	}
	return bot, nil
}
