package app

import (
	"context"
	"sync/atomic"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/errs"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

const messagePageSize = 50

// SyncUseCase orchestrates cache-first hydration followed by throttled
// background refresh for the room list and per-room message windows.
type SyncUseCase struct {
	store *StateStore
	cache repository.CacheRepository
	media repository.MediaRepository
	api   repository.BackendAPI
	cfg   config.SyncConfig

	// openGen guards against applying async results for a room the user
	// has since navigated away from; there is no cancellation, late
	// results are discarded on arrival
	openGen atomic.Uint64
}

// NewSyncUseCase init the sync coordinator
func NewSyncUseCase(
	store *StateStore,
	cache repository.CacheRepository,
	media repository.MediaRepository,
	api repository.BackendAPI,
	cfg config.SyncConfig,
) *SyncUseCase {
	return &SyncUseCase{
		store: store,
		cache: cache,
		media: media,
		api:   api,
		cfg:   cfg,
	}
}

// SyncRooms hydrates the room list from cache when the store is empty,
// then refreshes from the server. Cache failures never block the fetch.
func (uc *SyncUseCase) SyncRooms(ctx context.Context) error {
	if len(uc.store.Rooms()) == 0 {
		if cached, _ := uc.cache.LoadRoomList(); len(cached) > 0 {
			uc.store.SetRooms(cached)
		}
	}

	rooms, err := uc.api.ListRooms(ctx)
	if err != nil {
		logger.Log.Warn("room_list_sync_failed", zap.Error(err))
		return err
	}
	uc.store.SetRooms(rooms)
	return nil
}

// OpenRoom is the room-open flow: record the active room, serve whatever
// the cache has immediately, then after the settle delay refresh from
// the server unless a sync ran within the throttle window.
func (uc *SyncUseCase) OpenRoom(ctx context.Context, roomID string) {
	gen := uc.openGen.Add(1)
	uc.store.SetActiveRoom(roomID)

	go func() {
		cached, _ := uc.cache.LoadRoomMessages(roomID)
		if uc.openGen.Load() != gen || uc.store.ActiveRoom() != roomID {
			// user already moved on, drop the result
			return
		}
		if cached != nil && len(cached.Messages) > 0 {
			// cache hydration is not a sync, the throttle clock only
			// advances on a successful server refresh
			uc.store.ReplaceMessages(roomID, cached.Messages, true, "")
			uc.preloadVoice(ctx, cached.Messages)
			if cached.IsStale {
				logger.Log.Debug("serving_stale_cache", zap.String("room", roomID))
			}
		}

		// brief settle so the cache-derived render is not immediately
		// superseded by a flicker
		select {
		case <-time.After(uc.cfg.SettleDelay):
		case <-ctx.Done():
			return
		}
		if uc.openGen.Load() != gen {
			return
		}
		force := cached == nil || len(cached.Messages) == 0 || cached.IsStale
		if err := uc.SyncRoomMessages(ctx, roomID, force); err != nil {
			logger.Log.Warn("room_open_sync_failed", zap.String("room", roomID), zap.Error(err))
		}
	}()
}

// CloseRoom clears the active room so late async results are discarded.
func (uc *SyncUseCase) CloseRoom() {
	uc.openGen.Add(1)
	uc.store.SetActiveRoom("")
}

// SyncRoomMessages refreshes one room's newest message page. Skipped
// when a sync ran within the throttle window unless forced.
func (uc *SyncUseCase) SyncRoomMessages(ctx context.Context, roomID string, force bool) error {
	if uc.store.RoomDenied(roomID) {
		return nil
	}
	if !force && time.Since(uc.store.LastSynced(roomID)) < uc.cfg.Throttle {
		return nil
	}

	page, err := uc.api.ListMessages(ctx, roomID, "", repository.DirectionBackward, messagePageSize)
	if err != nil {
		if errs.IsNotFound(err) {
			// room is gone server-side, terminal transition
			uc.store.RemoveRoom(roomID)
			return nil
		}
		return err
	}
	if uc.store.RoomDenied(roomID) {
		return nil
	}
	uc.store.ReplaceMessages(roomID, page.Messages, page.HasMore, page.NextCursor)
	uc.store.MarkSynced(roomID)
	uc.preloadVoice(ctx, page.Messages)
	return nil
}

// LoadOlderMessages pages backward through history from the oldest
// loaded cursor.
func (uc *SyncUseCase) LoadOlderMessages(ctx context.Context, roomID string) error {
	bucket := uc.store.Bucket(roomID)
	if !bucket.HasMore {
		return nil
	}
	page, err := uc.api.ListMessages(ctx, roomID, bucket.OldestCursor, repository.DirectionBackward, messagePageSize)
	if err != nil {
		return err
	}
	uc.store.AppendOlderMessages(roomID, page.Messages, page.HasMore, page.NextCursor)
	return nil
}

// HandleAppForeground runs the resume flow: unconditional room-list
// refresh and, when a room is open, a forced message refresh after a
// short delay. Background time may have cost the realtime channel
// events, so the throttle is bypassed.
func (uc *SyncUseCase) HandleAppForeground(ctx context.Context) {
	go func() {
		if err := uc.SyncRooms(ctx); err != nil {
			logger.Log.Warn("resume_room_sync_failed", zap.Error(err))
		}
	}()
	if roomID := uc.store.ActiveRoom(); roomID != "" {
		go func() {
			select {
			case <-time.After(uc.cfg.ResumeDelay):
			case <-ctx.Done():
				return
			}
			if err := uc.SyncRoomMessages(ctx, roomID, true); err != nil {
				logger.Log.Warn("resume_message_sync_failed", zap.String("room", roomID), zap.Error(err))
			}
		}()
	}
}

// preloadVoice queues voice attachments at front-of-queue priority so
// playback starts without a download stall.
func (uc *SyncUseCase) preloadVoice(ctx context.Context, msgs []domain.ChatMessage) {
	if uc.media == nil {
		return
	}
	for _, m := range msgs {
		if m.Type != domain.MessageVoice {
			continue
		}
		for _, att := range m.Attachments {
			if att.Kind == domain.AttachmentVoice && att.RemoteURL != "" && att.LocalPath == "" {
				url := att.RemoteURL
				go func() {
					if _, err := uc.media.PreloadMedia(ctx, url, domain.AttachmentVoice); err != nil {
						logger.Log.Debug("voice_preload_failed", zap.String("url", url), zap.Error(err))
					}
				}()
			}
		}
	}
}
