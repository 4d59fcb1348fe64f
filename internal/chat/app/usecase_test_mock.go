package app

import (
	"context"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"

	"github.com/stretchr/testify/mock"
)

// MockBackendAPI Mock BackendAPI
type MockBackendAPI struct {
	mock.Mock
}

// ListRooms mock list rooms
func (m *MockBackendAPI) ListRooms(ctx context.Context) ([]domain.ChatRoom, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// GetRoom mock get one room
func (m *MockBackendAPI) GetRoom(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// CreateRoom mock create room
func (m *MockBackendAPI) CreateRoom(ctx context.Context, req repository.CreateRoomRequest) (*domain.ChatRoom, error) {
	args := m.Called(ctx, req)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateRoom mock update room
func (m *MockBackendAPI) UpdateRoom(ctx context.Context, roomID string, req repository.UpdateRoomRequest) (*domain.ChatRoom, error) {
	args := m.Called(ctx, roomID, req)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// AddMembers mock add members
func (m *MockBackendAPI) AddMembers(ctx context.Context, roomID string, userIDs []string) error {
	args := m.Called(ctx, roomID, userIDs)
	return args.Error(0)
}

// RemoveMember mock remove member
func (m *MockBackendAPI) RemoveMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// LeaveRoom mock leave room
func (m *MockBackendAPI) LeaveRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// ListMessages mock list messages
func (m *MockBackendAPI) ListMessages(ctx context.Context, roomID, cursor string, direction repository.Direction, limit int) (*repository.MessagePage, error) {
	args := m.Called(ctx, roomID, cursor, direction, limit)
	if args.Get(0) != nil {
		return args.Get(0).(*repository.MessagePage), args.Error(1)
	}
	return nil, args.Error(1)
}

// SendMessage mock send message
func (m *MockBackendAPI) SendMessage(ctx context.Context, req repository.SendMessageRequest) (*domain.ChatMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// DeleteMessage mock delete message
func (m *MockBackendAPI) DeleteMessage(ctx context.Context, roomID, messageID string, forAll bool) error {
	args := m.Called(ctx, roomID, messageID, forAll)
	return args.Error(0)
}

// MarkRead mock mark read
func (m *MockBackendAPI) MarkRead(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// SearchUsers mock search users
func (m *MockBackendAPI) SearchUsers(ctx context.Context, query string) ([]domain.Participant, error) {
	args := m.Called(ctx, query)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Participant), args.Error(1)
	}
	return nil, args.Error(1)
}
