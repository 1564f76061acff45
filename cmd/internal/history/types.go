// Package history owns the dual-log conversation state: the user-facing
// display log and the model-native curated history log, plus the alignment
// algorithm that keeps the two consistent under truncation.
package history

// Role identifies the author of a conversation entry.
// The same two values are used by both logs; they are wire-stable.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// DisplayMessage is one user-visible entry of a conversation.
//
// Content is the rendered text, including presentation-only additions such as
// attachment annotations, token-usage footers and grounding citations. None of
// those additions exist in the model-native log, which is why the two logs
// cannot be derived from each other.
type DisplayMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Blob is inline binary content (attachments) in the provider wire shape.
// Data is base64-encoded by encoding/json, which is exactly what the
// upstream API expects.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Part is one content part of a model-native turn.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// ModelTurn is one structured turn of the model-native log, in the exact
// shape the upstream model needs to resume a conversation with context.
type ModelTurn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextTurn is a convenience constructor for a single-part text turn.
func TextTurn(role Role, text string) ModelTurn {
	return ModelTurn{Role: role, Parts: []Part{{Text: text}}}
}

// ChatMeta is the per-conversation metadata entry.
type ChatMeta struct {
	Title      string `json:"title"`
	Bookmarked bool   `json:"bookmarked"`
}

// CountUserEntries returns the number of user-role entries in a display log
// prefix. It is the anchor quantity for cross-log alignment.
func CountUserEntries(msgs []DisplayMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
