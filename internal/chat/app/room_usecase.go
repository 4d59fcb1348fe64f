package app

import (
	"context"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// RoomUseCase is the thin pass-through for room CRUD and membership:
// every server result is folded back into the store so the room list
// the UI observes never diverges from what the backend confirmed.
type RoomUseCase struct {
	store *StateStore
	api   repository.BackendAPI
}

// NewRoomUseCase init the room usecase
func NewRoomUseCase(store *StateStore, api repository.BackendAPI) *RoomUseCase {
	return &RoomUseCase{store: store, api: api}
}

// CreateRoom creates a room server-side and inserts it into the store.
func (uc *RoomUseCase) CreateRoom(ctx context.Context, req repository.CreateRoomRequest) (*domain.ChatRoom, error) {
	room, err := uc.api.CreateRoom(ctx, req)
	if err != nil {
		logger.Log.Warn("room_create_failed", zap.Error(err))
		return nil, err
	}
	uc.store.UpsertRoom(*room)
	return room, nil
}

// UpdateRoom patches title/avatar and folds the confirmed room back in.
func (uc *RoomUseCase) UpdateRoom(ctx context.Context, roomID string, req repository.UpdateRoomRequest) (*domain.ChatRoom, error) {
	room, err := uc.api.UpdateRoom(ctx, roomID, req)
	if err != nil {
		logger.Log.Warn("room_update_failed", zap.String("room", roomID), zap.Error(err))
		return nil, err
	}
	uc.store.UpsertRoom(*room)
	return room, nil
}

// RefreshRoom re-fetches one room, used after membership changes.
func (uc *RoomUseCase) RefreshRoom(ctx context.Context, roomID string) error {
	if uc.store.RoomDenied(roomID) {
		return nil
	}
	room, err := uc.api.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	uc.store.UpsertRoom(*room)
	return nil
}

// AddMembers adds participants, then refreshes the room so the stored
// participant list reflects the server's.
func (uc *RoomUseCase) AddMembers(ctx context.Context, roomID string, userIDs []string) error {
	if err := uc.api.AddMembers(ctx, roomID, userIDs); err != nil {
		logger.Log.Warn("room_add_members_failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	return uc.RefreshRoom(ctx, roomID)
}

// RemoveMember removes one participant, then refreshes the room.
func (uc *RoomUseCase) RemoveMember(ctx context.Context, roomID, userID string) error {
	if err := uc.api.RemoveMember(ctx, roomID, userID); err != nil {
		logger.Log.Warn("room_remove_member_failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	return uc.RefreshRoom(ctx, roomID)
}

// LeaveRoom leaves server-side, then drops the room locally. Leaving is
// terminal for this user, the deny-list stops late fetches from
// resurrecting it.
func (uc *RoomUseCase) LeaveRoom(ctx context.Context, roomID string) error {
	if err := uc.api.LeaveRoom(ctx, roomID); err != nil {
		logger.Log.Warn("room_leave_failed", zap.String("room", roomID), zap.Error(err))
		return err
	}
	uc.store.RemoveRoom(roomID)
	return nil
}

// SearchUsers pass-through for the member-picker UI.
func (uc *RoomUseCase) SearchUsers(ctx context.Context, query string) ([]domain.Participant, error) {
	return uc.api.SearchUsers(ctx, query)
}
