// Package orchestrator runs one conversation turn end to end: load the
// agent, gather knowledge, tools, API results and availability, build
// the layered prompt, generate the reply, and persist both sides of
// the exchange. Every integration is optional per turn; an integration
// failing degrades the reply, it never aborts the turn.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-ai/parley/internal/apitools"
	"github.com/parley-ai/parley/internal/apperror"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/intent"
	"github.com/parley-ai/parley/internal/metrics"
	"github.com/parley-ai/parley/internal/notify"
	"github.com/parley-ai/parley/internal/responder"
	"github.com/parley-ai/parley/internal/scheduling"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/internal/toolgw"
	"github.com/parley-ai/parley/pkg/contracts"
	"github.com/parley-ai/parley/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("parley/orchestrator")

// Stage dependencies, narrowed so tests can fake each one.

type KnowledgeSearcher interface {
	Search(ctx context.Context, agentID, query string, topK int) []models.KnowledgeChunk
}

type UnindexedFetcher interface {
	FetchUnindexed(ctx context.Context, sources []models.KnowledgeSource) []models.KnowledgeChunk
}

type ToolPlanner interface {
	Run(ctx context.Context, server models.ToolServerConfig, message string) *models.ToolInvocationResult
}

type APIInvoker interface {
	Invoke(ctx context.Context, tool models.APIToolConfig, message string) (string, error)
}

type AvailabilityComputer interface {
	Compute(ctx context.Context, windows []models.AvailabilityWindow, opts scheduling.Options) (*models.SlotSet, error)
}

type EventExtractor interface {
	Extract(ctx context.Context, agentID, contextText string) (stored, skipped int, err error)
}

type TurnNotifier interface {
	Publish(ctx context.Context, outcome notify.TurnOutcome)
}

type Responder interface {
	Respond(ctx context.Context, req *contracts.CompletionRequest) (*contracts.Completion, error)
	RespondStream(ctx context.Context, req *contracts.CompletionRequest, events chan<- models.StreamChunk) (*contracts.Completion, error)
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	store     store.Store
	knowledge KnowledgeSearcher
	fetcher   UnindexedFetcher
	planner   ToolPlanner
	invoker   APIInvoker
	scheduler AvailabilityComputer
	extractor EventExtractor
	responder Responder
	notifier  TurnNotifier
	cfg       config.PipelineConfig
	now       func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithClock injects the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithNotifier publishes a webhook event after every completed turn.
func WithNotifier(n TurnNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an orchestrator. fetcher, planner, invoker, scheduler
// and extractor may be nil; the corresponding stage is then skipped.
func New(s store.Store, knowledge KnowledgeSearcher, fetcher UnindexedFetcher, planner ToolPlanner, invoker APIInvoker, scheduler AvailabilityComputer, extractor EventExtractor, resp Responder, cfg config.PipelineConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     s,
		knowledge: knowledge,
		fetcher:   fetcher,
		planner:   planner,
		invoker:   invoker,
		scheduler: scheduler,
		extractor: extractor,
		responder: resp,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// turnState is everything gathered before generation.
type turnState struct {
	agent     *models.Agent
	history   []models.ChatMessage
	system    string
	slots     *models.SlotSet
	startedAt time.Time
}

// Converse handles a non-streaming turn.
func (o *Orchestrator) Converse(ctx context.Context, agentAddr string, req *models.TurnRequest) (*models.TurnResponse, error) {
	state, err := o.prepare(ctx, agentAddr, req)
	if err != nil {
		return nil, err
	}

	comp, err := o.responder.Respond(ctx, o.completionRequest(state, req))
	o.finish(ctx, state, req, comp, err)
	if err != nil {
		return &models.TurnResponse{Message: responder.SanitizedErrorMessage}, nil
	}

	resp := &models.TurnResponse{Message: comp.Content}
	if state.slots != nil {
		resp.Scheduling = state.slots
	}
	return resp, nil
}

// ConverseStream handles a streaming turn, emitting TurnEvents on the
// channel: chunks followed by exactly one done or error event. The
// channel is not closed here; the caller owns it.
func (o *Orchestrator) ConverseStream(ctx context.Context, agentAddr string, req *models.TurnRequest, events chan<- models.TurnEvent) error {
	state, err := o.prepare(ctx, agentAddr, req)
	if err != nil {
		return err
	}

	chunks := make(chan models.StreamChunk, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ch := range chunks {
			var ev models.TurnEvent
			switch {
			case ch.Error != "":
				ev = models.TurnEvent{Type: "error", Error: ch.Error}
			case ch.Done:
				// Final message is emitted below once the completion
				// is known.
				continue
			case ch.Content != "":
				ev = models.TurnEvent{Type: "chunk", Text: ch.Content}
			default:
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	comp, err := o.responder.RespondStream(ctx, o.completionRequest(state, req), chunks)
	close(chunks)
	<-forwarded
	o.finish(ctx, state, req, comp, err)
	if err != nil {
		// The error event was already emitted from the chunk stream.
		return nil
	}

	done := models.TurnEvent{Type: "done", Message: comp.Content}
	if state.slots != nil {
		done.Scheduling = state.slots
	}
	select {
	case events <- done:
	case <-ctx.Done():
	}
	return nil
}

// prepare validates the request, loads agent state, runs the optional
// gathering stages and persists the user turn.
func (o *Orchestrator) prepare(ctx context.Context, agentAddr string, req *models.TurnRequest) (*turnState, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperror.New(apperror.CodeValidation, "message is required")
	}
	if strings.TrimSpace(req.UserAddress) == "" {
		return nil, apperror.New(apperror.CodeValidation, "user_address is required")
	}

	agent, err := o.store.GetAgentByAddress(ctx, agentAddr)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, apperror.Wrap(apperror.CodeNotFound, "agent not found", err)
		}
		return nil, apperror.Wrap(apperror.CodeInternal, "load agent", err)
	}

	state := &turnState{agent: agent, startedAt: o.now()}

	turns, err := o.store.ListRecentTurns(ctx, agent.ID, req.UserAddress, o.cfg.HistoryMessages)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agent.ID).Msg("loading history failed, continuing without")
	}
	state.history = historyMessages(turns)

	if err := o.store.AppendTurn(ctx, &models.ConversationTurn{
		ID:          uuid.NewString(),
		AgentID:     agent.ID,
		UserAddress: req.UserAddress,
		Role:        models.RoleUser,
		Content:     req.Message,
		CreatedAt:   o.now(),
	}); err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID).Msg("persisting user turn failed")
	}

	gatherCtx, span := tracer.Start(ctx, "turn.gather",
		trace.WithAttributes(attribute.String("agent.address", agent.Address)))
	knowledge := o.gatherKnowledge(gatherCtx, agent, req.Message)
	toolResults := o.gatherToolResults(gatherCtx, agent, req.Message)
	state.slots = o.gatherAvailability(gatherCtx, agent, req.Message)
	o.extractEvents(gatherCtx, agent, knowledge, toolResults)
	span.SetAttributes(
		attribute.Int("turn.knowledge_chunks", len(knowledge)),
		attribute.Int("turn.tool_results", len(toolResults)),
	)
	span.End()

	state.system = buildSystemPrompt(promptInput{
		agent:       agent,
		now:         o.now(),
		toolResults: toolResults,
		knowledge:   knowledge,
		aiSlots:     aiFacing(state.slots),
		eventsNote:  agent.Features.Events.On(true),
	})
	return state, nil
}

func (o *Orchestrator) completionRequest(state *turnState, req *models.TurnRequest) *contracts.CompletionRequest {
	return &contracts.CompletionRequest{
		System:   state.system,
		Messages: append(state.history, models.ChatMessage{Role: "user", Content: req.Message}),
	}
}

// finish persists the assistant turn and bumps the counter, exactly
// once per turn, success or failure.
func (o *Orchestrator) finish(ctx context.Context, state *turnState, req *models.TurnRequest, comp *contracts.Completion, genErr error) {
	latency := o.now().Sub(state.startedAt)

	turn := &models.ConversationTurn{
		ID:          uuid.NewString(),
		AgentID:     state.agent.ID,
		UserAddress: req.UserAddress,
		Role:        models.RoleAssistant,
		CreatedAt:   o.now(),
		Usage:       &models.UsageRecord{LatencyMs: latency.Milliseconds()},
	}

	status := "ok"
	if genErr != nil {
		status = "generation_error"
		turn.Content = responder.SanitizedErrorMessage
		turn.Usage.ErrorCode = string(apperror.CodeOf(genErr))
		turn.Usage.ErrorMessage = responder.SanitizedErrorMessage
		log.Error().Err(genErr).Str("agent_id", state.agent.ID).Msg("generation failed")
	} else {
		turn.Content = comp.Content
		turn.Usage.InputTokens = comp.Usage.InputTokens
		turn.Usage.OutputTokens = comp.Usage.OutputTokens
		turn.Usage.TotalTokens = comp.Usage.TotalTokens
		turn.Usage.EstimatedCost = comp.Usage.EstimatedCost
		metrics.RecordLLMRequest(comp.Model, "ok", comp.Usage.InputTokens, comp.Usage.OutputTokens)
	}

	if err := o.store.AppendTurn(ctx, turn); err != nil {
		log.Error().Err(err).Str("agent_id", state.agent.ID).Msg("persisting assistant turn failed")
	}
	if err := o.store.IncrementMessageCount(ctx, state.agent.ID); err != nil {
		log.Warn().Err(err).Str("agent_id", state.agent.ID).Msg("incrementing message count failed")
	}

	metrics.RecordTurn(state.agent.Address, status, latency)

	if o.notifier != nil {
		outcome := notify.TurnOutcome{
			AgentAddress: state.agent.Address,
			UserAddress:  req.UserAddress,
			Status:       status,
			ErrorCode:    turn.Usage.ErrorCode,
			TotalTokens:  turn.Usage.TotalTokens,
			LatencyMs:    latency.Milliseconds(),
			Timestamp:    o.now(),
		}
		go o.notifier.Publish(context.WithoutCancel(ctx), outcome)
	}
}

// ── Gathering Stages ─────────────────────────────────────────

func (o *Orchestrator) gatherKnowledge(ctx context.Context, agent *models.Agent, message string) []models.KnowledgeChunk {
	if o.knowledge == nil || !agent.Features.KnowledgeBase.On(true) {
		return nil
	}

	chunks := o.knowledge.Search(ctx, agent.ID, message, 0)
	if len(chunks) > 0 || o.fetcher == nil {
		return chunks
	}

	// Nothing indexed matched; fall back to fetching fresh sources.
	unindexed, err := o.store.ListUnindexedSources(ctx, agent.ID, 3)
	if err != nil || len(unindexed) == 0 {
		return nil
	}
	return o.fetcher.FetchUnindexed(ctx, unindexed)
}

func (o *Orchestrator) gatherToolResults(ctx context.Context, agent *models.Agent, message string) []models.ToolInvocationResult {
	var results []models.ToolInvocationResult

	if o.planner != nil && agent.Features.ToolServers.On(true) {
		for _, server := range agent.ToolServers {
			if !toolgw.Relevant(server, message) {
				continue
			}
			if r := o.planner.Run(ctx, server, message); r != nil {
				results = append(results, *r)
			}
		}
	}

	if o.invoker != nil && agent.Features.APITools.On(true) {
		for _, tool := range agent.APITools {
			if !apitools.Relevant(tool, message) {
				continue
			}
			text, err := o.invoker.Invoke(ctx, tool, message)
			if err != nil {
				log.Warn().Err(err).Str("tool", tool.Name).Msg("api tool failed")
				results = append(results, models.ToolInvocationResult{
					Server:   tool.Name,
					ToolName: string(tool.Kind),
					IsError:  true,
					ErrorMsg: err.Error(),
				})
				continue
			}
			results = append(results, models.ToolInvocationResult{
				Server:   tool.Name,
				ToolName: string(tool.Kind),
				Text:     text,
			})
		}
	}

	return results
}

func (o *Orchestrator) gatherAvailability(ctx context.Context, agent *models.Agent, message string) *models.SlotSet {
	if o.scheduler == nil || !agent.Features.Scheduling.On(true) || !intent.DetectScheduling(message) {
		return nil
	}

	windows, err := o.store.ListWindows(ctx, agent.ID)
	if err != nil || len(windows) == 0 {
		return nil
	}

	duration := time.Duration(agent.MeetingDurationMin) * time.Minute
	set, err := o.scheduler.Compute(ctx, windows, scheduling.Options{
		AgentID:       agent.ID,
		Duration:      duration,
		Buffer:        o.cfg.SlotBuffer,
		AdvanceNotice: o.cfg.AdvanceNotice,
		OwnerTimezone: agent.Timezone,
		Now:           o.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("agent_id", agent.ID).Msg("availability computation failed")
		return nil
	}
	return set
}

// extractEvents mines tool and knowledge context for event listings.
// Best effort; failures only log.
func (o *Orchestrator) extractEvents(ctx context.Context, agent *models.Agent, knowledge []models.KnowledgeChunk, toolResults []models.ToolInvocationResult) {
	if o.extractor == nil || !agent.Features.Events.On(true) {
		return
	}

	var sb strings.Builder
	for _, r := range toolResults {
		if !r.IsError && r.Text != "" {
			sb.WriteString(r.Text)
			sb.WriteByte('\n')
		}
	}
	for _, k := range knowledge {
		sb.WriteString(k.Text)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return
	}

	if _, _, err := o.extractor.Extract(ctx, agent.ID, sb.String()); err != nil {
		log.Warn().Err(err).Str("agent_id", agent.ID).Msg("event extraction failed")
	}
}

func aiFacing(set *models.SlotSet) []models.SlotGroup {
	if set == nil {
		return nil
	}
	return set.AIFacing
}
