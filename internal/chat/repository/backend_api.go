package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/errs"
	"chat_sync_service/pkg/token"

	"github.com/valyala/fasthttp"
)

// Direction message pagination direction
type Direction string

const (
	// DirectionBackward older messages (history scroll)
	DirectionBackward Direction = "backward"
	// DirectionForward newer messages
	DirectionForward Direction = "forward"
)

// UploadFile one multipart attachment in a send request
type UploadFile struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// SendMessageRequest outbound send-message call
type SendMessageRequest struct {
	RoomID  string
	TempID  string
	Type    domain.MessageType
	Content string
	ReplyTo string
	Poll    *domain.Poll
	Files   []UploadFile
}

// CreateRoomRequest outbound create-room call
type CreateRoomRequest struct {
	RoomType  domain.ChatRoomType
	Title     string
	ProductID string
	MemberIDs []string
}

// UpdateRoomRequest outbound update-room call, nil fields left unchanged
type UpdateRoomRequest struct {
	Title     *string
	AvatarURL *string
}

// MessagePage one page of cursor-paginated messages
type MessagePage struct {
	Messages   []domain.ChatMessage
	NextCursor string
	HasMore    bool
}

// BackendAPI definition backend HTTP API consumed by the engine
type BackendAPI interface {
	ListRooms(ctx context.Context) ([]domain.ChatRoom, error)
	GetRoom(ctx context.Context, roomID string) (*domain.ChatRoom, error)
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*domain.ChatRoom, error)
	UpdateRoom(ctx context.Context, roomID string, req UpdateRoomRequest) (*domain.ChatRoom, error)
	AddMembers(ctx context.Context, roomID string, userIDs []string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	LeaveRoom(ctx context.Context, roomID string) error

	ListMessages(ctx context.Context, roomID, cursor string, direction Direction, limit int) (*MessagePage, error)
	SendMessage(ctx context.Context, req SendMessageRequest) (*domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, roomID, messageID string, forAll bool) error
	MarkRead(ctx context.Context, roomID string) error

	SearchUsers(ctx context.Context, query string) ([]domain.Participant, error)
}

type httpBackendAPI struct {
	baseURL string
	timeout time.Duration
	tokens  token.Provider
	client  *fasthttp.Client
}

// NewHTTPBackendAPI create the fasthttp-backed API client
func NewHTTPBackendAPI(cfg config.APIConfig, tokens token.Provider) BackendAPI {
	return &httpBackendAPI{
		baseURL: cfg.BaseURL,
		timeout: cfg.RequestTimeout,
		tokens:  tokens,
		client: &fasthttp.Client{
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
		},
	}
}

// ListRooms fetch the paginated room list flattened to one slice
func (a *httpBackendAPI) ListRooms(ctx context.Context) ([]domain.ChatRoom, error) {
	raw, err := a.do(ctx, fasthttp.MethodGet, "/rooms", nil, "")
	if err != nil {
		return nil, err
	}
	var rooms []domain.ChatRoom
	if err := decodePayload(raw, "rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetRoom fetch one room
func (a *httpBackendAPI) GetRoom(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	raw, err := a.do(ctx, fasthttp.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, "")
	if err != nil {
		return nil, err
	}
	var room domain.ChatRoom
	if err := decodePayload(raw, "room", &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom create a room
func (a *httpBackendAPI) CreateRoom(ctx context.Context, req CreateRoomRequest) (*domain.ChatRoom, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"room_type":  req.RoomType,
		"title":      req.Title,
		"product_id": req.ProductID,
		"member_ids": req.MemberIDs,
	})
	raw, err := a.do(ctx, fasthttp.MethodPost, "/rooms", body, "application/json")
	if err != nil {
		return nil, err
	}
	var room domain.ChatRoom
	if err := decodePayload(raw, "room", &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// UpdateRoom patch room title/avatar
func (a *httpBackendAPI) UpdateRoom(ctx context.Context, roomID string, req UpdateRoomRequest) (*domain.ChatRoom, error) {
	fields := map[string]interface{}{}
	if req.Title != nil {
		fields["title"] = *req.Title
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = *req.AvatarURL
	}
	body, _ := json.Marshal(fields)
	raw, err := a.do(ctx, fasthttp.MethodPatch, "/rooms/"+url.PathEscape(roomID), body, "application/json")
	if err != nil {
		return nil, err
	}
	var room domain.ChatRoom
	if err := decodePayload(raw, "room", &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// AddMembers add participants
func (a *httpBackendAPI) AddMembers(ctx context.Context, roomID string, userIDs []string) error {
	body, _ := json.Marshal(map[string]interface{}{"user_ids": userIDs})
	_, err := a.do(ctx, fasthttp.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/members", body, "application/json")
	return err
}

// RemoveMember remove one participant
func (a *httpBackendAPI) RemoveMember(ctx context.Context, roomID, userID string) error {
	_, err := a.do(ctx, fasthttp.MethodDelete,
		"/rooms/"+url.PathEscape(roomID)+"/members/"+url.PathEscape(userID), nil, "")
	return err
}

// LeaveRoom leave the room as the current user
func (a *httpBackendAPI) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := a.do(ctx, fasthttp.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/leave", nil, "")
	return err
}

// ListMessages fetch one cursor-paginated page
func (a *httpBackendAPI) ListMessages(ctx context.Context, roomID, cursor string, direction Direction, limit int) (*MessagePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if direction != "" {
		q.Set("direction", string(direction))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	raw, err := a.do(ctx, fasthttp.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	page := &MessagePage{}
	if err := decodePayload(raw, "messages", &page.Messages); err != nil {
		return nil, err
	}
	// cursor fields are optional on the last page
	if v, err := extractPayload(raw, "next_cursor"); err == nil {
		_ = json.Unmarshal(v, &page.NextCursor)
	}
	if v, err := extractPayload(raw, "has_more"); err == nil {
		_ = json.Unmarshal(v, &page.HasMore)
	}
	return page, nil
}

// SendMessage multipart send, typed by the type field
func (a *httpBackendAPI) SendMessage(ctx context.Context, req SendMessageRequest) (*domain.ChatMessage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("type", string(req.Type))
	_ = w.WriteField("room_id", req.RoomID)
	if req.TempID != "" {
		_ = w.WriteField("temp_id", req.TempID)
	}
	if req.Content != "" {
		_ = w.WriteField("content", req.Content)
	}
	if req.ReplyTo != "" {
		_ = w.WriteField("reply_to", req.ReplyTo)
	}
	if req.Poll != nil {
		pollJSON, _ := json.Marshal(req.Poll)
		_ = w.WriteField("poll", string(pollJSON))
	}
	for _, f := range req.Files {
		field := f.Field
		if field == "" {
			field = "files"
		}
		fw, err := w.CreateFormFile(field, f.Name)
		if err != nil {
			return nil, errs.New(errs.KindUnknown, "send message", err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, errs.New(errs.KindUnknown, "send message", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errs.New(errs.KindUnknown, "send message", err)
	}

	raw, err := a.do(ctx, fasthttp.MethodPost, "/messages", buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var msg domain.ChatMessage
	if err := decodePayload(raw, "message", &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errs.New(errs.KindParse, "send message: confirmation missing id", nil)
	}
	return &msg, nil
}

// DeleteMessage delete for all or hide for self
func (a *httpBackendAPI) DeleteMessage(ctx context.Context, roomID, messageID string, forAll bool) error {
	path := fmt.Sprintf("/rooms/%s/messages/%s?for_all=%t",
		url.PathEscape(roomID), url.PathEscape(messageID), forAll)
	_, err := a.do(ctx, fasthttp.MethodDelete, path, nil, "")
	return err
}

// MarkRead mark the room read up to now
func (a *httpBackendAPI) MarkRead(ctx context.Context, roomID string) error {
	_, err := a.do(ctx, fasthttp.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/read", nil, "")
	return err
}

// SearchUsers search users for room creation
func (a *httpBackendAPI) SearchUsers(ctx context.Context, query string) ([]domain.Participant, error) {
	raw, err := a.do(ctx, fasthttp.MethodGet, "/users/search?q="+url.QueryEscape(query), nil, "")
	if err != nil {
		return nil, err
	}
	var users []domain.Participant
	if err := decodePayload(raw, "users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// do performs one authorized request and maps transport/status failures
// onto the error taxonomy.
func (a *httpBackendAPI) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(a.baseURL + path)
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	if body != nil {
		req.SetBody(body)
	}

	if a.tokens != nil {
		pair, err := a.tokens.Tokens()
		if err != nil {
			return nil, errs.New(errs.KindAuth, "api auth", err)
		}
		if !token.NotExpired(pair.Access, 10*time.Second) {
			pair, err = a.tokens.Refresh(ctx)
			if err != nil {
				return nil, errs.New(errs.KindAuth, "api auth refresh", err)
			}
		}
		req.Header.Set(fasthttp.HeaderAuthorization, token.Bearer(pair.Access))
	}

	timeout := a.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := a.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, errs.New(errs.KindNetwork, method+" "+path, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return append([]byte(nil), resp.Body()...), nil
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, errs.Newf(errs.KindAuth, method+" "+path, "status %d", status)
	case status == fasthttp.StatusNotFound || status == fasthttp.StatusGone:
		return nil, errs.Newf(errs.KindNotFound, method+" "+path, "status %d", status)
	case status >= 500:
		// transient server failure, retryable like a connectivity error
		return nil, errs.Newf(errs.KindNetwork, method+" "+path, "status %d", status)
	default:
		return nil, errs.Newf(errs.KindUnknown, method+" "+path, "status %d", status)
	}
}
