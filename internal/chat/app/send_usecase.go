package app

import (
	"context"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/errs"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Draft the user-supplied content of an outgoing message
type Draft struct {
	RoomID  string
	Type    domain.MessageType
	Content string
	ReplyTo string
	Poll    *domain.Poll

	// Attachments local metadata known before upload: recording paths,
	// voice duration/waveform, image dimensions
	Attachments []domain.Attachment
	Files       []repository.UploadFile
}

// SendUseCase creates provisional messages, sends them and reconciles
// them against the server-confirmed record.
type SendUseCase struct {
	store *StateStore
	api   repository.BackendAPI
	cfg   config.SendConfig

	mu     sync.Mutex
	drafts map[string]Draft
}

// NewSendUseCase init the optimistic send usecase
func NewSendUseCase(store *StateStore, api repository.BackendAPI, cfg config.SendConfig) *SendUseCase {
	return &SendUseCase{
		store:  store,
		api:    api,
		cfg:    cfg,
		drafts: make(map[string]Draft),
	}
}

// Send inserts a provisional message immediately and starts the
// send-and-reconcile loop in the background. Returns the temporary id
// the provisional is keyed by.
func (uc *SendUseCase) Send(ctx context.Context, draft Draft) string {
	tempID := domain.NewTempID()

	provisional := domain.ChatMessage{
		TempID:      tempID,
		RoomID:      draft.RoomID,
		Type:        draft.Type,
		SenderID:    uc.store.CurrentUserID(),
		Content:     draft.Content,
		ReplyTo:     draft.ReplyTo,
		Poll:        draft.Poll,
		Attachments: draft.Attachments,
		Status:      domain.StatusSending,
		CreatedAt:   time.Now(),
	}
	uc.store.InsertProvisional(provisional)

	uc.mu.Lock()
	uc.drafts[tempID] = draft
	uc.mu.Unlock()

	go uc.sendLoop(ctx, draft, tempID)
	return tempID
}

// Retry restarts the send loop for a failed provisional message.
func (uc *SendUseCase) Retry(ctx context.Context, tempID string) bool {
	uc.mu.Lock()
	draft, ok := uc.drafts[tempID]
	uc.mu.Unlock()
	if !ok {
		return false
	}
	uc.store.UpdateMessage(draft.RoomID, tempID, func(m *domain.ChatMessage) {
		m.Status = domain.StatusSending
		m.RetryCount = 0
		m.FailReason = ""
	})
	go uc.sendLoop(ctx, draft, tempID)
	return true
}

// Cancel discards a failed provisional message.
func (uc *SendUseCase) Cancel(roomID, tempID string) {
	uc.mu.Lock()
	delete(uc.drafts, tempID)
	uc.mu.Unlock()
	uc.store.DeleteMessage(roomID, tempID, true, "")
}

// DeleteMessage deletes a confirmed message server-side and applies the
// same transition locally.
func (uc *SendUseCase) DeleteMessage(ctx context.Context, roomID, messageID string, forAll bool) error {
	if err := uc.api.DeleteMessage(ctx, roomID, messageID, forAll); err != nil {
		return err
	}
	uc.store.DeleteMessage(roomID, messageID, forAll, uc.store.CurrentUserID())
	return nil
}

// MarkRead reports the room read to the server and clears the local
// unread counter.
func (uc *SendUseCase) MarkRead(ctx context.Context, roomID string) error {
	if err := uc.api.MarkRead(ctx, roomID); err != nil {
		return err
	}
	uc.store.MarkRoomRead(roomID)
	return nil
}

// sendLoop performs the network send with the fixed escalating backoff
// schedule. Network-class failures retry up to MaxAttempts, anything
// else fails immediately. The provisional stays visible throughout so
// the user keeps the retry/cancel affordance.
func (uc *SendUseCase) sendLoop(ctx context.Context, draft Draft, tempID string) {
	req := repository.SendMessageRequest{
		RoomID:  draft.RoomID,
		TempID:  tempID,
		Type:    draft.Type,
		Content: draft.Content,
		ReplyTo: draft.ReplyTo,
		Poll:    draft.Poll,
		Files:   draft.Files,
	}

	for attempt := 1; attempt <= uc.cfg.MaxAttempts; attempt++ {
		confirmed, err := uc.api.SendMessage(ctx, req)
		if err == nil {
			outcome := uc.store.ApplyConfirmed(draft.RoomID, tempID, *confirmed)
			logger.Log.Debug("send_confirmed",
				zap.String("room", draft.RoomID),
				zap.String("temp_id", tempID),
				zap.String("id", confirmed.ID),
				zap.Int("outcome", int(outcome)),
			)
			uc.mu.Lock()
			delete(uc.drafts, tempID)
			uc.mu.Unlock()
			return
		}

		retryable := errs.IsRetryable(err)
		last := !retryable || attempt == uc.cfg.MaxAttempts
		uc.store.UpdateMessage(draft.RoomID, tempID, func(m *domain.ChatMessage) {
			m.Status = domain.StatusFailed
			m.FailReason = err.Error()
			m.IsRetryable = retryable
			m.RetryCount = attempt
		})
		if last {
			logger.Log.Error("send_failed",
				zap.String("room", draft.RoomID),
				zap.String("temp_id", tempID),
				zap.Int("attempts", attempt),
				zap.Bool("retryable", retryable),
				zap.Error(err),
			)
			return
		}

		idx := attempt - 1
		if idx >= len(uc.cfg.Backoff) {
			idx = len(uc.cfg.Backoff) - 1
		}
		backoff := uc.cfg.Backoff[idx]
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		uc.store.UpdateMessage(draft.RoomID, tempID, func(m *domain.ChatMessage) {
			m.Status = domain.StatusSending
		})
	}
}
