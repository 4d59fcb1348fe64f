package app

import (
	"context"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testSendConfig() config.SendConfig {
	return config.SendConfig{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		MatchWindow: 5 * time.Second,
	}
}

func TestSendUseCase_Send_Success(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	api := new(MockBackendAPI)

	confirmed := &domain.ChatMessage{
		ID: "m1", RoomID: "room-1", Type: domain.MessageText,
		SenderID: testUserID, Content: "hello", CreatedAt: time.Now(),
	}
	api.On("SendMessage", ctx, mock.Anything).Return(confirmed, nil).After(50 * time.Millisecond)

	uc := NewSendUseCase(store, api, testSendConfig())
	tempID := uc.Send(ctx, Draft{RoomID: "room-1", Type: domain.MessageText, Content: "hello"})

	// provisional visible before the response comes back
	b := store.Bucket("room-1")
	i := b.IndexByTempID(tempID)
	assert.GreaterOrEqual(t, i, 0)
	assert.Equal(t, domain.StatusSending, b.Messages[i].Status)

	assert.Eventually(t, func() bool {
		b := store.Bucket("room-1")
		i := b.IndexByID("m1")
		return i >= 0 && b.Messages[i].TempID == tempID
	}, time.Second, 5*time.Millisecond)

	// exactly one entry for the logical message
	assert.Len(t, store.Bucket("room-1").Messages, 1)
	api.AssertExpectations(t)
}

func TestSendUseCase_Send_NetworkRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	api := new(MockBackendAPI)

	netErr := errs.Newf(errs.KindNetwork, "send", "connection reset")
	confirmed := &domain.ChatMessage{ID: "m1", RoomID: "room-1", Type: domain.MessageText, SenderID: testUserID, Content: "hello", CreatedAt: time.Now()}
	api.On("SendMessage", ctx, mock.Anything).Return(nil, netErr).Twice()
	api.On("SendMessage", ctx, mock.Anything).Return(confirmed, nil).Once()

	uc := NewSendUseCase(store, api, testSendConfig())
	uc.Send(ctx, Draft{RoomID: "room-1", Type: domain.MessageText, Content: "hello"})

	assert.Eventually(t, func() bool {
		return store.Bucket("room-1").IndexByID("m1") >= 0
	}, time.Second, 5*time.Millisecond)
	api.AssertNumberOfCalls(t, "SendMessage", 3)
}

func TestSendUseCase_Send_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	api := new(MockBackendAPI)

	netErr := errs.Newf(errs.KindNetwork, "send", "connection reset")
	api.On("SendMessage", ctx, mock.Anything).Return(nil, netErr)

	uc := NewSendUseCase(store, api, testSendConfig())
	tempID := uc.Send(ctx, Draft{RoomID: "room-1", Type: domain.MessageText, Content: "hello"})

	assert.Eventually(t, func() bool {
		b := store.Bucket("room-1")
		i := b.IndexByTempID(tempID)
		return i >= 0 && b.Messages[i].Status == domain.StatusFailed && b.Messages[i].RetryCount == 3
	}, time.Second, 5*time.Millisecond)

	b := store.Bucket("room-1")
	m := b.Messages[b.IndexByTempID(tempID)]
	assert.True(t, m.IsRetryable)
	assert.NotEmpty(t, m.FailReason)
	api.AssertNumberOfCalls(t, "SendMessage", 3)
}

func TestSendUseCase_Send_AuthFailsImmediately(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	api := new(MockBackendAPI)

	api.On("SendMessage", ctx, mock.Anything).Return(nil, errs.Newf(errs.KindAuth, "send", "status 401"))

	uc := NewSendUseCase(store, api, testSendConfig())
	tempID := uc.Send(ctx, Draft{RoomID: "room-1", Type: domain.MessageText, Content: "hello"})

	assert.Eventually(t, func() bool {
		b := store.Bucket("room-1")
		i := b.IndexByTempID(tempID)
		return i >= 0 && b.Messages[i].Status == domain.StatusFailed
	}, time.Second, 5*time.Millisecond)

	b := store.Bucket("room-1")
	assert.False(t, b.Messages[b.IndexByTempID(tempID)].IsRetryable)
	api.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestSendUseCase_Retry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	api := new(MockBackendAPI)

	cfg := testSendConfig()
	cfg.MaxAttempts = 1
	api.On("SendMessage", ctx, mock.Anything).Return(nil, errs.Newf(errs.KindNetwork, "send", "down")).Once()

	uc := NewSendUseCase(store, api, cfg)
	tempID := uc.Send(ctx, Draft{RoomID: "room-1", Type: domain.MessageText, Content: "hello"})

	assert.Eventually(t, func() bool {
		b := store.Bucket("room-1")
		i := b.IndexByTempID(tempID)
		return i >= 0 && b.Messages[i].Status == domain.StatusFailed
	}, time.Second, 5*time.Millisecond)

	confirmed := &domain.ChatMessage{ID: "m1", RoomID: "room-1", Type: domain.MessageText, SenderID: testUserID, Content: "hello", CreatedAt: time.Now()}
	api.On("SendMessage", ctx, mock.Anything).Return(confirmed, nil).Once()

	assert.True(t, uc.Retry(ctx, tempID))
	assert.Eventually(t, func() bool {
		return store.Bucket("room-1").IndexByID("m1") >= 0
	}, time.Second, 5*time.Millisecond)

	// retrying an unknown temp id is a no-op
	assert.False(t, uc.Retry(ctx, "temp_unknown"))
}

func TestSendUseCase_Cancel(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	api := new(MockBackendAPI)

	cfg := testSendConfig()
	cfg.MaxAttempts = 1
	api.On("SendMessage", ctx, mock.Anything).Return(nil, errs.Newf(errs.KindNetwork, "send", "down")).Once()

	uc := NewSendUseCase(store, api, cfg)
	tempID := uc.Send(ctx, Draft{RoomID: "room-1", Type: domain.MessageText, Content: "hello"})

	assert.Eventually(t, func() bool {
		b := store.Bucket("room-1")
		i := b.IndexByTempID(tempID)
		return i >= 0 && b.Messages[i].Status == domain.StatusFailed
	}, time.Second, 5*time.Millisecond)

	uc.Cancel("room-1", tempID)
	assert.Equal(t, -1, store.Bucket("room-1").IndexByTempID(tempID))
	assert.False(t, uc.Retry(ctx, tempID))
}

func TestSendUseCase_DeleteMessage(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	store.ApplyInbound(domain.ChatMessage{ID: "m1", RoomID: "room-1", Type: domain.MessageText, SenderID: "user-other", Content: "hi", CreatedAt: time.Now()}, 0)

	api := new(MockBackendAPI)
	api.On("DeleteMessage", ctx, "room-1", "m1", true).Return(nil)

	uc := NewSendUseCase(store, api, testSendConfig())
	assert.NoError(t, uc.DeleteMessage(ctx, "room-1", "m1", true))
	assert.Equal(t, -1, store.Bucket("room-1").IndexByID("m1"))
	api.AssertExpectations(t)
}

func TestSendUseCase_DeleteMessage_ServerErrorKeepsLocal(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	store.ApplyInbound(domain.ChatMessage{ID: "m1", RoomID: "room-1", Type: domain.MessageText, SenderID: "user-other", Content: "hi", CreatedAt: time.Now()}, 0)

	api := new(MockBackendAPI)
	api.On("DeleteMessage", ctx, "room-1", "m1", true).Return(errs.Newf(errs.KindNetwork, "delete", "down"))

	uc := NewSendUseCase(store, api, testSendConfig())
	assert.Error(t, uc.DeleteMessage(ctx, "room-1", "m1", true))
	assert.GreaterOrEqual(t, store.Bucket("room-1").IndexByID("m1"), 0)
}

func TestSendUseCase_MarkRead(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	seedRoom(store, "room-1")
	store.ApplyInbound(domain.ChatMessage{ID: "m1", RoomID: "room-1", Type: domain.MessageText, SenderID: "user-other", Content: "hi", CreatedAt: time.Now()}, 0)
	assert.Equal(t, 1, store.Room("room-1").UnreadCount)

	api := new(MockBackendAPI)
	api.On("MarkRead", ctx, "room-1").Return(nil)

	uc := NewSendUseCase(store, api, testSendConfig())
	assert.NoError(t, uc.MarkRead(ctx, "room-1"))
	assert.Equal(t, 0, store.Room("room-1").UnreadCount)
}
