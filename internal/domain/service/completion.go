package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/infrastructure/monitoring"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// CompletionService orchestrates one chat completion end to end: validate,
// resolve the session, shape the envelope, call upstream, advance the
// cursor, persist the audit pair. It is the only component with side effects
// across session state, the upstream and the audit log.
type CompletionService struct {
	sessions        *SessionManager
	client          *qwen.Client
	relay           *Relay
	audit           repository.AuditRepository
	monitor         *monitoring.Monitor
	logger          *zap.Logger
	upstreamTimeout time.Duration
}

// NewCompletionService wires the orchestrator. upstreamTimeout bounds a
// blocking turn once it is detached from the client's context.
func NewCompletionService(
	sessions *SessionManager,
	client *qwen.Client,
	relay *Relay,
	audit repository.AuditRepository,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
	upstreamTimeout time.Duration,
) *CompletionService {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 60 * time.Second
	}
	return &CompletionService{
		sessions:        sessions,
		client:          client,
		relay:           relay,
		audit:           audit,
		monitor:         monitor,
		logger:          logger.With(zap.String("component", "completion")),
		upstreamTimeout: upstreamTimeout,
	}
}

// Complete handles the blocking (non-streaming) path. The upstream turn is
// detached from the client's context: once sent it runs to completion and is
// persisted even if the client disconnects — only the response write is lost.
// Aborting mid-turn would leave the parent chain without its new cursor.
func (s *CompletionService) Complete(ctx context.Context, req *entity.ChatCompletionRequest, rawBody []byte) (*entity.ChatCompletionResponse, error) {
	s.monitor.IncRequestTotal()
	start := time.Now()

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.upstreamTimeout)
	defer cancel()

	session, env, reqRec, err := s.prepare(uctx, req, rawBody)
	if err != nil {
		s.monitor.IncRequestFailed()
		return nil, err
	}

	s.monitor.IncUpstreamCall()
	reply, err := s.client.SendMessage(uctx, env)
	if err != nil {
		s.monitor.IncUpstreamError()
		s.monitor.IncRequestFailed()
		appErr := s.appError(err)
		s.logErrorResponse(session.ID, reqRec, appErr, time.Since(start))
		return nil, appErr
	}

	completion, err := BuildCompletion(reply, req.Model)
	if err != nil {
		s.monitor.IncRequestFailed()
		appErr := s.appError(err)
		s.logErrorResponse(session.ID, reqRec, appErr, time.Since(start))
		return nil, appErr
	}

	finishReason := "stop"
	parentID := ExtractParentID(reply)
	if parentID == "" {
		// No cursor surfaced: the chain cannot advance, flag the row but
		// still deliver the content we got.
		finishReason = "error"
		s.logger.Warn("Upstream reply carried no parent_id", zap.String("session_id", session.ID))
	} else if err := s.sessions.AdvanceParent(uctx, session, parentID); err != nil {
		s.logger.Error("Failed to advance session cursor",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	upstreamBody, _ := json.Marshal(reply)
	outboundBody, _ := json.Marshal(completion)

	rec := &entity.ResponseRecord{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Timestamp:    time.Now().UnixMilli(),
		UpstreamBody: string(upstreamBody),
		OutboundBody: string(outboundBody),
		ParentID:     parentID,
		FinishReason: finishReason,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if completion.Usage != nil {
		rec.PromptTokens = completion.Usage.PromptTokens
		rec.CompletionTokens = completion.Usage.CompletionTokens
		rec.TotalTokens = completion.Usage.TotalTokens
		s.monitor.AddTokensUsed(completion.Usage.TotalTokens)
	}
	s.logResponse(reqRec, rec)

	s.monitor.IncRequestSuccess()
	s.monitor.RecordRequestLatency(time.Since(start))
	return completion, nil
}

// Stream handles the streaming path. An error return means nothing has been
// written downstream yet and the caller should emit a JSON error envelope;
// once the relay starts, failures travel inside the SSE channel and Stream
// returns nil.
func (s *CompletionService) Stream(ctx context.Context, req *entity.ChatCompletionRequest, rawBody []byte, w http.ResponseWriter) error {
	s.monitor.IncRequestTotal()
	s.monitor.IncStream()
	start := time.Now()

	session, env, reqRec, err := s.prepare(ctx, req, rawBody)
	if err != nil {
		s.monitor.IncRequestFailed()
		return err
	}

	s.monitor.IncUpstreamCall()
	body, err := s.client.OpenStream(ctx, env)
	if err != nil {
		s.monitor.IncUpstreamError()
		s.monitor.IncRequestFailed()
		appErr := s.appError(err)
		s.logErrorResponse(session.ID, reqRec, appErr, time.Since(start))
		return appErr
	}

	streamID := NewCompletionID()
	res := s.relay.Run(ctx, body, w, streamID, req.Model)

	if res.ParentID != "" {
		// Persist with a detached context: the request context is already
		// cancelled when the client disconnected.
		actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.sessions.AdvanceParent(actx, session, res.ParentID); err != nil {
			s.logger.Error("Failed to advance session cursor",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	} else {
		s.logger.Warn("Stream surfaced no parent_id",
			zap.String("session_id", session.ID),
			zap.Bool("client_gone", res.ClientGone))
	}

	// Store the aggregated completion in the same JSON shape as the blocking
	// path, so audit rows parse uniformly regardless of mode.
	var outboundBody string
	if res.Content != "" || res.FinishReason == "stop" {
		aggregated := &entity.ChatCompletionResponse{
			ID:      streamID,
			Object:  "chat.completion",
			Created: start.Unix(),
			Model:   req.Model,
			Choices: []entity.ChatChoice{{
				Index:        0,
				Message:      entity.ChatChoiceOutput{Role: "assistant", Content: res.Content},
				FinishReason: res.FinishReason,
			}},
			Usage: &res.Usage,
		}
		if payload, err := json.Marshal(aggregated); err == nil {
			outboundBody = string(payload)
		}
	}

	rec := &entity.ResponseRecord{
		ID:               uuid.NewString(),
		SessionID:        session.ID,
		Timestamp:        time.Now().UnixMilli(),
		OutboundBody:     outboundBody,
		ParentID:         res.ParentID,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		FinishReason:     res.FinishReason,
		DurationMs:       time.Since(start).Milliseconds(),
	}
	if res.Err != nil {
		rec.ErrorMessage = res.Err.Error()
	}
	if res.ClientGone {
		rec.ErrorMessage = "client disconnected"
	}
	s.logResponse(reqRec, rec)

	if res.FinishReason == "stop" {
		s.monitor.IncRequestSuccess()
	} else {
		s.monitor.IncRequestFailed()
	}
	s.monitor.AddTokensUsed(res.Usage.TotalTokens)
	s.monitor.RecordRequestLatency(time.Since(start))
	return nil
}

// prepare runs the shared front half: validation, fingerprint, session
// resolution (creating the upstream chat for a new conversation), envelope
// shaping, request audit row.
func (s *CompletionService) prepare(ctx context.Context, req *entity.ChatCompletionRequest, rawBody []byte) (*entity.Session, *qwen.Envelope, *entity.RequestRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, nil, err
	}

	fingerprint, err := s.sessions.Fingerprint(req)
	if err != nil {
		return nil, nil, nil, err
	}

	first, _ := req.FirstUserMessage()
	firstContent := first.Content.Canonical()

	session, _, err := s.sessions.GetOrCreate(ctx, fingerprint, firstContent, func(ctx context.Context) (string, error) {
		s.monitor.IncUpstreamCall()
		chatID, err := s.client.CreateChat(ctx, ChatTitle(firstContent), []string{req.Model})
		if err != nil {
			s.monitor.IncUpstreamError()
		}
		return chatID, err
	})
	if err != nil {
		return nil, nil, nil, s.appError(err)
	}

	env := BuildEnvelope(req, session)
	envBody, _ := json.Marshal(env)

	// Audit is best-effort: a failed write never blocks the request.
	reqRec := &entity.RequestRecord{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Timestamp:    time.Now().UnixMilli(),
		Model:        req.Model,
		Stream:       req.Stream,
		InboundBody:  string(rawBody),
		UpstreamBody: string(envBody),
	}
	if err := s.audit.LogRequest(ctx, reqRec); err != nil {
		s.logger.Warn("Failed to log request", zap.String("session_id", session.ID), zap.Error(err))
		reqRec = nil
	}

	return session, env, reqRec, nil
}

// logResponse links and persists one response row (best-effort).
func (s *CompletionService) logResponse(reqRec *entity.RequestRecord, rec *entity.ResponseRecord) {
	if reqRec != nil {
		rec.RequestPK = reqRec.PK
		rec.RequestID = reqRec.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.audit.LogResponse(ctx, rec); err != nil {
		s.logger.Warn("Failed to log response", zap.String("session_id", rec.SessionID), zap.Error(err))
	}
}

// logErrorResponse persists the error row for a failed turn.
func (s *CompletionService) logErrorResponse(sessionID string, reqRec *entity.RequestRecord, appErr *domainErrors.AppError, elapsed time.Duration) {
	rec := &entity.ResponseRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Timestamp:    time.Now().UnixMilli(),
		FinishReason: "error",
		ErrorMessage: appErr.Error(),
		DurationMs:   elapsed.Milliseconds(),
	}
	s.logResponse(reqRec, rec)
}

// appError normalizes any failure onto the gateway taxonomy.
func (s *CompletionService) appError(err error) *domainErrors.AppError {
	if appErr, ok := domainErrors.AsApp(err); ok {
		return appErr
	}
	if ue, ok := err.(*qwen.UpstreamError); ok {
		return ue.AppError()
	}
	return domainErrors.NewInternal("completion failed", err)
}
