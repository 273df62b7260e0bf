package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/domain/repository"
	"github.com/qwengate/qwengate/internal/domain/valueobject"
	"github.com/qwengate/qwengate/internal/infrastructure/monitoring"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
	"github.com/qwengate/qwengate/pkg/safego"
)

// SessionManager maps stateless OpenAI conversations onto server-stateful
// upstream chats. The conversation identity is the fingerprint of the first
// user message, which OpenAI clients replay on every turn.
type SessionManager struct {
	repo          repository.SessionRepository
	timeout       time.Duration
	sweepInterval time.Duration
	monitor       *monitoring.Monitor
	logger        *zap.Logger

	stopSweeper chan struct{}
	sweeperDone chan struct{}
}

// NewSessionManager creates the manager. timeout is the idle TTL refreshed on
// every access; sweepInterval drives the background expiry sweep.
func NewSessionManager(
	repo repository.SessionRepository,
	timeout time.Duration,
	sweepInterval time.Duration,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		repo:          repo,
		timeout:       timeout,
		sweepInterval: sweepInterval,
		monitor:       monitor,
		logger:        logger.With(zap.String("component", "session_manager")),
		stopSweeper:   make(chan struct{}),
		sweeperDone:   make(chan struct{}),
	}
}

// Fingerprint derives the deterministic session id from a request. The digest
// covers only the first user message's role and canonical content, so the
// same conversation hashes identically across turns regardless of how many
// messages the client has accumulated.
func (m *SessionManager) Fingerprint(req *entity.ChatCompletionRequest) (string, error) {
	first, ok := req.FirstUserMessage()
	if !ok {
		return "", domainErrors.NewInvalidRequest("at least one user message is required", "messages")
	}
	return valueobject.FingerprintDigest("user", first.Content.Canonical()), nil
}

// ChatFactory creates the upstream chat backing a brand-new session and
// returns its id. It is invoked only when no live session exists.
type ChatFactory func(ctx context.Context) (string, error)

// GetOrCreate resolves the session for a fingerprint, creating the upstream
// chat through factory when needed. An expired row is treated as absent and
// removed. Concurrent creations for the same fingerprint race on the unique
// primary key; losers read back the winner's row, so exactly one upstream
// chat is created per conversation.
func (m *SessionManager) GetOrCreate(ctx context.Context, id, firstUserMessage string, factory ChatFactory) (*entity.Session, bool, error) {
	session, err := m.repo.FindByID(ctx, id)
	if err == nil {
		if !session.Expired(time.Now()) {
			m.touch(ctx, session)
			return session, false, nil
		}
		// Expired on read: drop it and fall through to a fresh create.
		if delErr := m.repo.Delete(ctx, id); delErr != nil && !domainErrors.IsKind(delErr, domainErrors.KindNotFound) {
			m.logger.Warn("Failed to delete expired session", zap.String("session_id", id), zap.Error(delErr))
		}
	} else if !domainErrors.IsKind(err, domainErrors.KindNotFound) {
		return nil, false, err
	}

	chatID, err := factory(ctx)
	if err != nil {
		return nil, false, err
	}

	session = entity.NewSession(id, chatID, firstUserMessage, m.timeout)
	if err := m.repo.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateSession) {
			// Lost the race: the winner's upstream chat carries the
			// conversation, ours is abandoned.
			winner, findErr := m.repo.FindByID(ctx, id)
			if findErr != nil {
				return nil, false, findErr
			}
			m.touch(ctx, winner)
			m.logger.Debug("Concurrent session creation, using winner",
				zap.String("session_id", id),
				zap.String("abandoned_chat_id", chatID))
			return winner, false, nil
		}
		return nil, false, err
	}

	m.monitor.IncSessionCreated()
	m.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("chat_id", chatID))
	return session, true, nil
}

// Get resolves a session by id with read-through expiry: an expired row is
// deleted and reported as NotFound.
func (m *SessionManager) Get(ctx context.Context, id string) (*entity.Session, error) {
	session, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now()) {
		if delErr := m.repo.Delete(ctx, id); delErr != nil && !domainErrors.IsKind(delErr, domainErrors.KindNotFound) {
			m.logger.Warn("Failed to delete expired session", zap.String("session_id", id), zap.Error(delErr))
		}
		return nil, domainErrors.NewNotFound("session not found")
	}
	return session, nil
}

// AdvanceParent records the parent_id surfaced by the upstream reply and
// persists the cursor. This is the only place ParentID moves forward.
func (m *SessionManager) AdvanceParent(ctx context.Context, session *entity.Session, parentID string) error {
	session.Advance(parentID, m.timeout)
	return m.repo.Save(ctx, session)
}

// Delete removes a session and, through the cascade, its audit records.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	return m.repo.Delete(ctx, id)
}

// List pages through sessions, most recently accessed first.
func (m *SessionManager) List(ctx context.Context, limit, offset int) ([]*entity.Session, int64, error) {
	return m.repo.List(ctx, limit, offset)
}

// CountLive counts unexpired sessions.
func (m *SessionManager) CountLive(ctx context.Context) (int64, error) {
	return m.repo.CountLive(ctx, time.Now().UnixMilli())
}

// StartSweeper launches the background expiry sweep. Stop shuts it down.
func (m *SessionManager) StartSweeper() {
	safego.Go(m.logger, "session-sweeper", func() {
		defer close(m.sweeperDone)

		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopSweeper:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	})
}

// StopSweeper stops the sweep loop and waits for the in-flight pass.
func (m *SessionManager) StopSweeper() {
	close(m.stopSweeper)
	<-m.sweeperDone
}

// sweep deletes every expired session in one batch and refreshes the live
// session gauge.
func (m *SessionManager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	removed, err := m.repo.DeleteExpired(ctx, now)
	if err != nil {
		m.logger.Error("Session sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		m.monitor.AddSessionsExpired(removed)
		m.logger.Info("Swept expired sessions", zap.Int64("removed", removed))
	}

	if live, err := m.repo.CountLive(ctx, now); err == nil {
		m.monitor.SetActiveSessions(live)
	}
}

// touch refreshes last_accessed and expires_at on a hit. Failures are logged
// and swallowed: a stale TTL never blocks the request path.
func (m *SessionManager) touch(ctx context.Context, session *entity.Session) {
	now := time.Now().UnixMilli()
	session.LastAccessed = now
	session.ExpiresAt = now + m.timeout.Milliseconds()
	if err := m.repo.Touch(ctx, session.ID, session.LastAccessed, session.ExpiresAt); err != nil {
		m.logger.Warn("Failed to touch session", zap.String("session_id", session.ID), zap.Error(err))
	}
}
