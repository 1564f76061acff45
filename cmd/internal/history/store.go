package history

import "context"

// Store is the durable persistence boundary for conversation artifacts.
//
// Three independently loadable artifacts exist per user:
//   - one metadata map covering all of the user's conversations
//   - one display log per conversation
//   - one model-native log per conversation
//
// Requirements:
//   - A missing artifact loads as its empty value, never as an error.
//     First use of a conversation needs no explicit initialization.
//   - SaveLogs persists both logs of one conversation as a single atomic
//     unit. A crash must not leave one log truncated and the other not.
//   - DeleteChat removes both logs and the metadata entry as one unit.
//
// Store implementations do not serialize concurrent writers to the same
// conversation; Repository owns that (per-conversation locking).
type Store interface {
	LoadMeta(ctx context.Context, user string) (map[string]ChatMeta, error)
	SaveMeta(ctx context.Context, user string, meta map[string]ChatMeta) error

	LoadDisplay(ctx context.Context, user, chatID string) ([]DisplayMessage, error)
	SaveDisplay(ctx context.Context, user, chatID string, msgs []DisplayMessage) error

	LoadModel(ctx context.Context, user, chatID string) ([]ModelTurn, error)
	SaveModel(ctx context.Context, user, chatID string, turns []ModelTurn) error

	// SaveLogs atomically persists both logs of one conversation.
	SaveLogs(ctx context.Context, user, chatID string, msgs []DisplayMessage, turns []ModelTurn) error

	// DeleteChat removes both logs and the conversation's metadata entry.
	// Deleting an unknown conversation is a no-op.
	DeleteChat(ctx context.Context, user, chatID string) error

	Close() error
}
