// Package pipeline implements component C13, the top-level memory
// pipeline orchestrator (spec.md §4.8): classify intent and time, fetch
// identity and world-view, then run retrieval unless the request
// short-circuits. Grounded on
// original_source/src/services/conversation_memory_pipeline's
// orchestration shape, generalized into the 14-step sequence spec.md
// names explicitly.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/memoryd/internal/icm"
	"github.com/fyrsmithlabs/memoryd/internal/identity"
	"github.com/fyrsmithlabs/memoryd/internal/memerr"
	"github.com/fyrsmithlabs/memoryd/internal/redact"
	"github.com/fyrsmithlabs/memoryd/internal/repository"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
	"github.com/fyrsmithlabs/memoryd/internal/worldview"
)

// SessionState is step 4's output: conversation count within the request's
// session (spec.md §4.8).
type SessionState struct {
	ConversationCount int `json:"conversation_count"`
}

// Result is C13's return value (spec.md §4.8 step 14).
type Result struct {
	RequestID string              `json:"request_id"`
	Intent    icm.IntentResult    `json:"intent"`
	Time      icm.TimeResult      `json:"time"`
	Session   SessionState        `json:"session"`
	Identity  identity.Identity   `json:"identity"`
	WorldView worldview.WorldView `json:"world_view"`
	Results   []retrieval.Hit     `json:"results"`
}

// Request is the pipeline's input for one fetch-memory call.
type Request struct {
	Tenant        tenant.Info
	Query         string
	SessionID     string
	Limit         int
	MinSimilarity float64
	Now           time.Time
	TZOffset      *int
}

// Pipeline wires C8-C12 together under one orchestrator.
type Pipeline struct {
	store            repository.Store
	intentClassifier *icm.IntentClassifier
	timeClassifier   *icm.TimeClassifier
	identity         *identity.Provider
	worldview        *worldview.Builder
	retrieval        *retrieval.Engine
	logger           *zap.Logger
}

// New builds a Pipeline from its component dependencies.
func New(
	store repository.Store,
	intentClassifier *icm.IntentClassifier,
	timeClassifier *icm.TimeClassifier,
	identityProvider *identity.Provider,
	worldViewBuilder *worldview.Builder,
	retrievalEngine *retrieval.Engine,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:            store,
		intentClassifier: intentClassifier,
		timeClassifier:   timeClassifier,
		identity:         identityProvider,
		worldview:        worldViewBuilder,
		retrieval:        retrievalEngine,
		logger:           logger,
	}
}

// Run executes the full 14-step pipeline for one fetch-memory request.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("pipeline: %w: %v", memerr.ErrCancelled, err)
	}

	// Step 1.
	requestID := uuid.New().String()
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Step 2.
	intentResult := p.intentClassifier.Classify(ctx, req.Query)

	// Step 3: always resolve time, even if unused downstream.
	timeResult := p.timeClassifier.Resolve(ctx, req.Query, now, req.TZOffset)

	// Step 4.
	var sessionCount int
	if req.SessionID != "" {
		var err error
		sessionCount, err = p.store.CountConversationsInSession(ctx, req.Tenant, req.SessionID)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: session state: %w", err)
		}
	}
	session := SessionState{ConversationCount: sessionCount}

	// Step 5.
	start, end, hasWindow := parseWindow(timeResult)

	// Step 6. rawStrategy is ICM-I's unmodified classification and is what
	// gates the step 9 short-circuit (spec.md §2's "if intent signals no
	// retrieval, it short-circuits with world-view + identity only"). The
	// reported intent payload keeps rawStrategy; the upgraded
	// effectiveStrategy is what step 12 passes to C12, and since a "none"
	// classification short-circuits at step 9 it is never actually
	// dispatched as a world_view retrieval.
	rawStrategy := intentResult.RetrievalStrategy
	effectiveStrategy := rawStrategy
	if effectiveStrategy == icm.StrategyNone {
		effectiveStrategy = icm.StrategyWorldView
	}
	requiredMemory := intentResult.RequiredMemory
	if len(requiredMemory) == 0 {
		requiredMemory = []string{req.Query}
	}
	sentinelHit := false
	for _, item := range requiredMemory {
		if redact.ContainsSentinel(item) {
			sentinelHit = true
			break
		}
	}

	// Step 7: identity and world-view fetched concurrently. World-view is
	// only asked to summarize when retrieval will actually run.
	summarize := !sentinelHit && rawStrategy != icm.StrategyNone
	var ident identity.Identity
	var wv worldview.WorldView
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		ident = p.identity.Get(gctx, req.Tenant)
		return nil
	})
	group.Go(func() error {
		built, err := p.worldview.Build(gctx, req.Tenant, req.SessionID, summarize)
		if err != nil {
			p.logger.Warn("pipeline: world-view build failed, continuing without it",
				zap.String("request_id", requestID), zap.Error(err))
			built = worldview.WorldView{UserID: req.Tenant.UserID, ProjectID: req.Tenant.ProjectID}
		}
		wv = built
		return nil
	})
	_ = group.Wait() // both goroutines are self-contained; errors are absorbed above

	// Step 8.
	p.logICM(ctx, requestID, req.Tenant, repository.ICMTypeWorldView, map[string]interface{}{"world_view": wv})
	p.logICM(ctx, requestID, req.Tenant, repository.ICMTypeIdentity, map[string]interface{}{"identity": ident})

	result := Result{
		RequestID: requestID,
		Intent:    intentResult,
		Time:      timeResult,
		Session:   session,
		Identity:  ident,
		WorldView: wv,
		Results:   []retrieval.Hit{},
	}

	// Step 9: short-circuit.
	if rawStrategy == icm.StrategyNone || sentinelHit {
		p.logEmptyRetrieval(ctx, requestID, req.Tenant, true)
		return result, nil
	}

	// Step 10.
	p.logICM(ctx, requestID, req.Tenant, repository.ICMTypeIntent, map[string]interface{}{"intent": intentResult})
	p.logICM(ctx, requestID, req.Tenant, repository.ICMTypeTime, map[string]interface{}{"time": timeResult})
	p.logICM(ctx, requestID, req.Tenant, repository.ICMTypeSession, map[string]interface{}{"session": session})

	// Step 11.
	if len(requiredMemory) == 0 {
		p.logEmptyRetrieval(ctx, requestID, req.Tenant, false)
		return result, nil
	}

	// Step 12.
	query := retrieval.Query{
		RequiredMemory: requiredMemory,
		Strategy:       effectiveStrategy,
		Tenant:         req.Tenant,
		Limit:          req.Limit,
		MinSimilarity:  req.MinSimilarity,
		Now:            now,
	}
	if hasWindow {
		query.Start, query.End = start, end
	}
	hits, err := p.retrieval.Retrieve(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: retrieval: %w", err)
	}
	result.Results = hits

	// Step 13.
	p.logRetrieval(ctx, requestID, req.Tenant, hits, req.Limit, req.MinSimilarity, false)

	// Step 14.
	return result, nil
}

func parseWindow(t icm.TimeResult) (start, end time.Time, ok bool) {
	if t.StartTime == "" || t.EndTime == "" {
		return time.Time{}, time.Time{}, false
	}
	s, err := time.Parse(time.RFC3339, t.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	e, err := time.Parse(time.RFC3339, t.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return s, e, true
}

func (p *Pipeline) logICM(ctx context.Context, requestID string, t tenant.Info, kind repository.ICMType, payload map[string]interface{}) {
	_, err := p.store.SaveICMLog(ctx, t, &repository.ICMLog{
		RequestID: requestID,
		UserID:    t.UserID,
		ProjectID: t.ProjectID,
		ICMType:   kind,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		p.logger.Warn("pipeline: failed to persist ICM log", zap.String("request_id", requestID), zap.String("icm_type", string(kind)), zap.Error(err))
	}
}

func (p *Pipeline) logEmptyRetrieval(ctx context.Context, requestID string, t tenant.Info, skipped bool) {
	_, err := p.store.SaveRetrievalLog(ctx, t, &repository.RetrievalLog{
		RequestID: requestID,
		UserID:    t.UserID,
		ProjectID: t.ProjectID,
		Skipped:   skipped,
		Results:   nil,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("pipeline: failed to persist empty retrieval log", zap.String("request_id", requestID), zap.Error(err))
	}
}

// logRetrieval persists both the ICM retrieval log (with result
// statistics) and the retrieval payload log (target = "pgvector" per
// spec.md §4.8 step 13).
func (p *Pipeline) logRetrieval(ctx context.Context, requestID string, t tenant.Info, hits []retrieval.Hit, limit int, minSimilarity float64, skipped bool) {
	results := make([]repository.RetrievalResult, len(hits))
	for i, h := range hits {
		text := ""
		if len(h.Turns) > 0 {
			text = h.Turns[len(h.Turns)-1].Text
		}
		results[i] = repository.RetrievalResult{
			SourceID:   h.ConversationID,
			SourceKind: h.Source,
			Similarity: h.Similarity,
			Text:       text,
		}
	}

	_, err := p.store.SaveICMLog(ctx, t, &repository.ICMLog{
		RequestID:     requestID,
		UserID:        t.UserID,
		ProjectID:     t.ProjectID,
		ICMType:       repository.ICMTypeRetrieval,
		CreatedAt:     time.Now().UTC(),
		Payload:       map[string]interface{}{"target": "pgvector"},
		ResultsCount:  len(hits),
		Limit:         limit,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		p.logger.Warn("pipeline: failed to persist retrieval ICM log", zap.String("request_id", requestID), zap.Error(err))
	}

	_, err = p.store.SaveRetrievalLog(ctx, t, &repository.RetrievalLog{
		RequestID: requestID,
		UserID:    t.UserID,
		ProjectID: t.ProjectID,
		Skipped:   skipped,
		Results:   results,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("pipeline: failed to persist retrieval payload log", zap.String("request_id", requestID), zap.Error(err))
	}
}
