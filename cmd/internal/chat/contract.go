package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loom/cmd/internal/history"
)

// Event names (wire-stable).
const (
	// Client -> server.
	EventRegister       = "register"
	EventLogin          = "login"
	EventAutoLogin      = "auto_login"
	EventGetModelList   = "get_model_list"
	EventCountToken     = "count_token"
	EventSendMessage    = "send_message"
	EventCancelStream   = "cancel_stream"
	EventDeleteMessage  = "delete_message"
	EventGetHistoryList = "get_history_list"
	EventLoadChat       = "load_chat"
	EventNewChat        = "new_chat"
	EventDeleteChat     = "delete_chat"
	EventRenameChat     = "rename_chat"
	EventToggleBookmark = "toggle_bookmark"
	EventSetGrounding   = "set_grounding"

	// Server -> client.
	EventRegisterResponse  = "register_response"
	EventLoginResponse     = "login_response"
	EventAutoLoginResponse = "auto_login_response"
	EventModelList         = "model_list"
	EventTotalTokens       = "total_tokens"
	EventResponseChunk     = "gemini_response_chunk"
	EventResponseComplete  = "gemini_response_complete"
	EventResponseError     = "gemini_response_error"
	EventMessageDeleted    = "message_deleted"
	EventHistoryList       = "history_list"
	EventChatLoaded        = "chat_loaded"
	EventChatCreated       = "chat_created"
	EventChatDeleted       = "chat_deleted"
	EventChatRenamed       = "chat_renamed"
	EventBookmarkToggled   = "bookmark_toggled"
	EventGroundingUpdated  = "grounding_updated"
	EventError             = "error"
)

var clientEvents = map[string]struct{}{
	EventRegister:       {},
	EventLogin:          {},
	EventAutoLogin:      {},
	EventGetModelList:   {},
	EventCountToken:     {},
	EventSendMessage:    {},
	EventCancelStream:   {},
	EventDeleteMessage:  {},
	EventGetHistoryList: {},
	EventLoadChat:       {},
	EventNewChat:        {},
	EventDeleteChat:     {},
	EventRenameChat:     {},
	EventToggleBookmark: {},
	EventSetGrounding:   {},
}

// Envelope is the canonical wire wrapper for every chat event.
type Envelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for a client envelope.
func (e Envelope) Validate() error {
	if e.Event == "" {
		return errors.New("missing event")
	}
	if _, ok := clientEvents[e.Event]; !ok {
		return fmt.Errorf("unsupported event: %s", e.Event)
	}
	return nil
}

// ---- client payloads ----

type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AutoLoginPayload struct {
	Token string `json:"token"`
}

type CountTokenPayload struct {
	ModelName    string `json:"model_name"`
	FileData     string `json:"file_data"`
	FileMIMEType string `json:"file_mime_type"`
}

type SendMessagePayload struct {
	Username         string `json:"username"`
	ChatID           string `json:"chat_id"`
	ModelName        string `json:"model_name"`
	Message          string `json:"message"`
	GroundingEnabled bool   `json:"grounding_enabled"`
	FileData         string `json:"file_data,omitempty"`
	FileName         string `json:"file_name,omitempty"`
	FileMIMEType     string `json:"file_mime_type,omitempty"`
}

type DeleteMessagePayload struct {
	Username     string `json:"username"`
	ChatID       string `json:"chat_id"`
	MessageIndex int    `json:"message_index"`
}

type UserPayload struct {
	Username string `json:"username"`
}

type ChatRefPayload struct {
	Username string `json:"username"`
	ChatID   string `json:"chat_id"`
}

type RenameChatPayload struct {
	Username string `json:"username"`
	ChatID   string `json:"chat_id"`
	NewTitle string `json:"new_title"`
}

type SetGroundingPayload struct {
	Enabled bool `json:"grounding_enabled"`
}

// ---- server payloads ----

type AuthResponsePayload struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	Username       string `json:"username,omitempty"`
	AutoLoginToken string `json:"auto_login_token,omitempty"`
}

type ModelListPayload struct {
	Models []string `json:"models"`
}

type TotalTokensPayload struct {
	TotalTokens int `json:"total_tokens"`
}

type ChunkPayload struct {
	Chunk  string `json:"chunk"`
	ChatID string `json:"chat_id"`
}

type CompletePayload struct {
	ChatID string `json:"chat_id"`
}

type StreamErrorPayload struct {
	Error  string `json:"error"`
	ChatID string `json:"chat_id"`
}

type MessageDeletedPayload struct {
	ChatID   string                   `json:"chat_id"`
	Messages []history.DisplayMessage `json:"messages"`
}

type HistoryListPayload struct {
	History map[string]history.ChatMeta `json:"history"`
}

type ChatLoadedPayload struct {
	ChatID   string                   `json:"chat_id"`
	Messages []history.DisplayMessage `json:"messages"`
}

type ChatCreatedPayload struct {
	ChatID string `json:"chat_id"`
}

type ChatDeletedPayload struct {
	ChatID string `json:"chat_id"`
}

type ChatRenamedPayload struct {
	ChatID   string `json:"chat_id"`
	NewTitle string `json:"new_title"`
}

type BookmarkToggledPayload struct {
	ChatID     string `json:"chat_id"`
	Bookmarked bool   `json:"bookmarked"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
