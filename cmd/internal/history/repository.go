package history

import (
	"context"
	"fmt"
	"sync"
)

const titleMaxRunes = 29

// Repository owns the two logs per conversation plus conversation metadata.
//
// Concurrency guarantees:
//   - Every operation touching one conversation runs its load-modify-save
//     cycle under a per-conversation lock, so two sends (or a send racing a
//     delete) on the same conversation cannot interleave and lose updates.
//   - Metadata operations of one user are serialized under a per-user lock.
//   - When both locks are needed the user lock is taken first (fixed order,
//     no deadlocks).
//
// There is no cross-request cache: every operation is a fresh load/save
// against the Store.
type Repository struct {
	store Store
	locks keyedMutex
}

// NewRepository constructs a Repository over a Store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) convKey(user, chatID string) string { return "conv/" + user + "/" + chatID }
func (r *Repository) userKey(user string) string         { return "user/" + user }

// LoadDisplayLog returns the display log; empty if the conversation is unknown.
func (r *Repository) LoadDisplayLog(ctx context.Context, user, chatID string) ([]DisplayMessage, error) {
	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	return r.store.LoadDisplay(ctx, user, chatID)
}

// LoadModelLog returns the model-native log; empty if the conversation is unknown.
func (r *Repository) LoadModelLog(ctx context.Context, user, chatID string) ([]ModelTurn, error) {
	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	return r.store.LoadModel(ctx, user, chatID)
}

// AppendUser appends a user-role display message. A present attachment label
// is concatenated as a trailing annotation; that is presentation only and is
// never sent to the model as text.
func (r *Repository) AppendUser(ctx context.Context, user, chatID, text, attachmentLabel string) error {
	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	msgs, err := r.store.LoadDisplay(ctx, user, chatID)
	if err != nil {
		return err
	}

	content := text
	if attachmentLabel != "" {
		content += "\n\n[attached file: " + attachmentLabel + "]"
	}

	msgs = append(msgs, DisplayMessage{Role: RoleUser, Content: content})
	return r.store.SaveDisplay(ctx, user, chatID, msgs)
}

// AppendModel appends a model-role display message containing the fully
// assembled response text.
func (r *Repository) AppendModel(ctx context.Context, user, chatID, text string) error {
	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	msgs, err := r.store.LoadDisplay(ctx, user, chatID)
	if err != nil {
		return err
	}

	msgs = append(msgs, DisplayMessage{Role: RoleModel, Content: text})
	return r.store.SaveDisplay(ctx, user, chatID, msgs)
}

// ReplaceModelLog overwrites the stored model-native log with the session's
// authoritative post-turn history.
func (r *Repository) ReplaceModelLog(ctx context.Context, user, chatID string, turns []ModelTurn) error {
	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	return r.store.SaveModel(ctx, user, chatID, turns)
}

// TruncateBoth persists both logs truncated to the given prefix lengths as a
// single atomic unit. Cut indexes beyond the current log lengths clamp.
func (r *Repository) TruncateBoth(ctx context.Context, user, chatID string, displayCut, modelCut int) error {
	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	return r.truncateBothLocked(ctx, user, chatID, displayCut, modelCut)
}

func (r *Repository) truncateBothLocked(ctx context.Context, user, chatID string, displayCut, modelCut int) error {
	msgs, err := r.store.LoadDisplay(ctx, user, chatID)
	if err != nil {
		return err
	}
	turns, err := r.store.LoadModel(ctx, user, chatID)
	if err != nil {
		return err
	}

	if displayCut < 0 {
		displayCut = 0
	}
	if displayCut > len(msgs) {
		displayCut = len(msgs)
	}
	if modelCut < 0 {
		modelCut = 0
	}
	if modelCut > len(turns) {
		modelCut = len(turns)
	}

	return r.store.SaveLogs(ctx, user, chatID, msgs[:displayCut], turns[:modelCut])
}

// DeleteFromDisplayIndex deletes display entry index and everything after it,
// then truncates the model-native log to the aligned prefix. Both truncations
// persist as one unit. Index 0 is a whole-conversation delete.
func (r *Repository) DeleteFromDisplayIndex(ctx context.Context, user, chatID string, index int) error {
	if index <= 0 {
		return r.DeleteConversation(ctx, user, chatID)
	}

	unlock := r.locks.Lock(r.convKey(user, chatID))
	defer unlock()

	msgs, err := r.store.LoadDisplay(ctx, user, chatID)
	if err != nil {
		return err
	}
	if index >= len(msgs) {
		return fmt.Errorf("message index out of range: %d", index)
	}

	turns, err := r.store.LoadModel(ctx, user, chatID)
	if err != nil {
		return err
	}

	retained := msgs[:index]

	// Deleting a user message keeps the preceding exchange whole, so the
	// model turns answering the last retained user turn are absorbed.
	// Deleting a model message cuts right after its prompting user turn.
	includeTrailingModel := msgs[index].Role == RoleUser
	cut := AlignCut(turns, CountUserEntries(retained), includeTrailingModel)

	return r.store.SaveLogs(ctx, user, chatID, retained, turns[:cut])
}

// ListConversations returns the user's conversation metadata map.
func (r *Repository) ListConversations(ctx context.Context, user string) (map[string]ChatMeta, error) {
	unlock := r.locks.Lock(r.userKey(user))
	defer unlock()

	return r.store.LoadMeta(ctx, user)
}

// EnsureMeta registers conversation metadata on first contact. The title is
// the leading runes of the first message. It reports whether the entry was
// newly created and returns the (possibly updated) metadata map.
func (r *Repository) EnsureMeta(ctx context.Context, user, chatID, firstMessage string) (bool, map[string]ChatMeta, error) {
	unlock := r.locks.Lock(r.userKey(user))
	defer unlock()

	meta, err := r.store.LoadMeta(ctx, user)
	if err != nil {
		return false, nil, err
	}
	if _, ok := meta[chatID]; ok {
		return false, meta, nil
	}

	meta[chatID] = ChatMeta{Title: truncateRunes(firstMessage, titleMaxRunes)}
	if err := r.store.SaveMeta(ctx, user, meta); err != nil {
		return false, nil, err
	}
	return true, meta, nil
}

// Rename sets a conversation title and returns the updated metadata map.
// Renaming an unknown conversation is a no-op (ok=false).
func (r *Repository) Rename(ctx context.Context, user, chatID, newTitle string) (bool, map[string]ChatMeta, error) {
	unlock := r.locks.Lock(r.userKey(user))
	defer unlock()

	meta, err := r.store.LoadMeta(ctx, user)
	if err != nil {
		return false, nil, err
	}
	m, ok := meta[chatID]
	if !ok {
		return false, meta, nil
	}

	m.Title = newTitle
	meta[chatID] = m
	if err := r.store.SaveMeta(ctx, user, meta); err != nil {
		return false, nil, err
	}
	return true, meta, nil
}

// ToggleBookmark flips a conversation's bookmark flag and returns the new
// value plus the updated metadata map.
func (r *Repository) ToggleBookmark(ctx context.Context, user, chatID string) (bool, bool, map[string]ChatMeta, error) {
	unlock := r.locks.Lock(r.userKey(user))
	defer unlock()

	meta, err := r.store.LoadMeta(ctx, user)
	if err != nil {
		return false, false, nil, err
	}
	m, ok := meta[chatID]
	if !ok {
		return false, false, meta, nil
	}

	m.Bookmarked = !m.Bookmarked
	meta[chatID] = m
	if err := r.store.SaveMeta(ctx, user, meta); err != nil {
		return false, false, nil, err
	}
	return true, m.Bookmarked, meta, nil
}

// DeleteConversation removes both logs and the metadata entry.
func (r *Repository) DeleteConversation(ctx context.Context, user, chatID string) error {
	unlockUser := r.locks.Lock(r.userKey(user))
	defer unlockUser()
	unlockConv := r.locks.Lock(r.convKey(user, chatID))
	defer unlockConv()

	return r.store.DeleteChat(ctx, user, chatID)
}

// keyedMutex is a mutual-exclusion section per string key. Entries are
// reference counted and removed when the last holder unlocks, so memory is
// bounded by the number of concurrently locked keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l := k.locks[key]
	if l == nil {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
