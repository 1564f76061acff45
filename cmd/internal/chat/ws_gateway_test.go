package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"loom/cmd/identity"
	"loom/cmd/internal/genai"
	"loom/cmd/internal/history"
)

// fakeSession satisfies ModelSession with a scripted stream and curated history.
type fakeSession struct {
	stream  *fakeStream
	history []history.ModelTurn
}

func (s *fakeSession) Stream(_ context.Context, text string, _ *history.Blob) (genai.Stream, error) {
	// Curated history is what a real session would commit after EOF.
	s.history = append(s.history,
		history.TextTurn(history.RoleUser, text),
		history.TextTurn(history.RoleModel, joinedText(s.stream.frags)),
	)
	return s.stream, nil
}

func (s *fakeSession) History() []history.ModelTurn { return s.history }

func joinedText(frags []genai.Fragment) string {
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.Text)
	}
	return b.String()
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := identity.NewService(log, identity.NewInMemoryStore(), "v1")
	repo := history.NewRepository(history.NewInMemoryStore())

	client, err := genai.NewClient(genai.Config{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewGateway(log, accounts, repo, client)
}

func drain(conn *Conn) []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-conn.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventsOf(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
	return v
}

func TestSendMessagePersistsAndCompletes(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	session := &fakeSession{stream: &fakeStream{frags: []genai.Fragment{
		{Text: "Hel"},
		{Text: "lo", Usage: &genai.UsageMetadata{TotalTokenCount: 1200}},
	}}}
	g.newSession = func(string, []history.ModelTurn, bool) ModelSession { return session }

	conn := NewConn("c1", 64)
	ctx := context.Background()

	g.onSendMessage(ctx, conn, SendMessagePayload{
		Username:  "alice",
		ChatID:    "chat1",
		ModelName: "gemini-2.0-flash",
		Message:   "hi there",
	})

	envs := drain(conn)
	got := eventsOf(envs)
	want := []string{EventHistoryList, EventResponseChunk, EventResponseChunk, EventResponseChunk, EventResponseComplete}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	// Final chunk carries the usage footer.
	last := decodePayload[ChunkPayload](t, envs[3])
	if !strings.Contains(last.Chunk, "Token: 1,200") {
		t.Fatalf("footer chunk = %q", last.Chunk)
	}

	msgs, err := g.repo.LoadDisplayLog(ctx, "alice", "chat1")
	if err != nil {
		t.Fatalf("LoadDisplayLog: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("display log has %d entries, want 2", len(msgs))
	}
	if msgs[0].Role != history.RoleUser || msgs[0].Content != "hi there" {
		t.Fatalf("user entry = %+v", msgs[0])
	}
	if msgs[1].Role != history.RoleModel || !strings.HasPrefix(msgs[1].Content, "Hello") {
		t.Fatalf("model entry = %+v", msgs[1])
	}
	if !strings.Contains(msgs[1].Content, "Token: 1,200") {
		t.Fatalf("model entry missing footer: %q", msgs[1].Content)
	}

	turns, err := g.repo.LoadModelLog(ctx, "alice", "chat1")
	if err != nil {
		t.Fatalf("LoadModelLog: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("model log has %d turns, want 2", len(turns))
	}
	if turns[1].Parts[0].Text != "Hello" {
		t.Fatalf("model turn text = %q", turns[1].Parts[0].Text)
	}
}

func TestSendMessageCancelledKeepsPromptOnly(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)

	st := &fakeStream{frags: textFragments("a", "b", "c", "d", "e")}
	session := &fakeSession{stream: st}
	g.newSession = func(string, []history.ModelTurn, bool) ModelSession { return session }

	conn := NewConn("c1", 64)
	ctx := context.Background()

	st.onRecv = func(i int) {
		if i == 1 {
			g.cancels.Cancel(conn.ID)
		}
	}

	g.onSendMessage(ctx, conn, SendMessagePayload{
		Username:  "alice",
		ChatID:    "chat1",
		ModelName: "gemini-2.0-flash",
		Message:   "hi",
	})

	envs := drain(conn)
	chunks := 0
	for _, e := range envs {
		switch e.Event {
		case EventResponseChunk:
			chunks++
		case EventResponseComplete, EventResponseError:
			t.Fatalf("terminal event %s after cancellation", e.Event)
		}
	}
	if chunks != 2 {
		t.Fatalf("forwarded %d chunks, want 2", chunks)
	}

	// The prompt stays; the partial model output is discarded.
	msgs, err := g.repo.LoadDisplayLog(ctx, "alice", "chat1")
	if err != nil {
		t.Fatalf("LoadDisplayLog: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != history.RoleUser {
		t.Fatalf("display log = %+v", msgs)
	}
	turns, err := g.repo.LoadModelLog(ctx, "alice", "chat1")
	if err != nil {
		t.Fatalf("LoadModelLog: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("model log mutated on cancellation: %+v", turns)
	}
}

func TestSendMessageRejectsUnknownAttachmentType(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	conn := NewConn("c1", 64)
	ctx := context.Background()

	g.onSendMessage(ctx, conn, SendMessagePayload{
		Username:     "alice",
		ChatID:       "chat1",
		ModelName:    "gemini-2.0-flash",
		Message:      "see attached",
		FileData:     "aGk=",
		FileName:     "payload.exe",
		FileMIMEType: "application/x-msdownload",
	})

	envs := drain(conn)
	if len(envs) != 1 || envs[0].Event != EventResponseError {
		t.Fatalf("events = %v, want single %s", eventsOf(envs), EventResponseError)
	}

	msgs, err := g.repo.LoadDisplayLog(ctx, "alice", "chat1")
	if err != nil {
		t.Fatalf("LoadDisplayLog: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("rejected send persisted entries: %+v", msgs)
	}
}

func TestSendMessageStreamFailureEmitsError(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	session := &fakeSession{stream: &fakeStream{
		frags: textFragments("partial"),
		err:   io.ErrUnexpectedEOF,
	}}
	g.newSession = func(string, []history.ModelTurn, bool) ModelSession { return session }

	conn := NewConn("c1", 64)
	ctx := context.Background()

	g.onSendMessage(ctx, conn, SendMessagePayload{
		Username:  "alice",
		ChatID:    "chat1",
		ModelName: "gemini-2.0-flash",
		Message:   "hi",
	})

	envs := drain(conn)
	lastEvent := envs[len(envs)-1].Event
	if lastEvent != EventResponseError {
		t.Fatalf("last event = %s, want %s", lastEvent, EventResponseError)
	}

	// Partial output is discarded.
	msgs, err := g.repo.LoadDisplayLog(ctx, "alice", "chat1")
	if err != nil {
		t.Fatalf("LoadDisplayLog: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != history.RoleUser {
		t.Fatalf("display log = %+v", msgs)
	}
}

func TestDeleteMessageIndexZeroRemovesConversation(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	ctx := context.Background()

	if _, _, err := g.repo.EnsureMeta(ctx, "alice", "chat1", "hello"); err != nil {
		t.Fatalf("EnsureMeta: %v", err)
	}
	if err := g.repo.AppendUser(ctx, "alice", "chat1", "hello", ""); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if err := g.repo.AppendModel(ctx, "alice", "chat1", "hi"); err != nil {
		t.Fatalf("AppendModel: %v", err)
	}

	conn := NewConn("c1", 64)
	payload, _ := json.Marshal(DeleteMessagePayload{Username: "alice", ChatID: "chat1", MessageIndex: 0})
	g.onDeleteMessage(ctx, conn, Envelope{Event: EventDeleteMessage, Payload: payload})

	envs := drain(conn)
	got := eventsOf(envs)
	if len(got) != 2 || got[0] != EventMessageDeleted || got[1] != EventHistoryList {
		t.Fatalf("events = %v", got)
	}

	deleted := decodePayload[MessageDeletedPayload](t, envs[0])
	if len(deleted.Messages) != 0 {
		t.Fatalf("messages after full delete = %+v", deleted.Messages)
	}
	hl := decodePayload[HistoryListPayload](t, envs[1])
	if _, ok := hl.History["chat1"]; ok {
		t.Fatal("deleted conversation still listed")
	}
}

func TestRenameChatReEmitsHistoryList(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	ctx := context.Background()

	if _, _, err := g.repo.EnsureMeta(ctx, "alice", "chat1", "original title"); err != nil {
		t.Fatalf("EnsureMeta: %v", err)
	}

	conn := NewConn("c1", 64)
	payload, _ := json.Marshal(RenameChatPayload{Username: "alice", ChatID: "chat1", NewTitle: "renamed"})
	g.onRenameChat(ctx, conn, Envelope{Event: EventRenameChat, Payload: payload})

	envs := drain(conn)
	got := eventsOf(envs)
	if len(got) != 2 || got[0] != EventChatRenamed || got[1] != EventHistoryList {
		t.Fatalf("events = %v", got)
	}
	hl := decodePayload[HistoryListPayload](t, envs[1])
	if hl.History["chat1"].Title != "renamed" {
		t.Fatalf("history list title = %q", hl.History["chat1"].Title)
	}
}

func TestCountTokenSkipsUnknownMIME(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	conn := NewConn("c1", 64)

	payload, _ := json.Marshal(CountTokenPayload{
		ModelName:    "gemini-2.0-flash",
		FileData:     "aGk=",
		FileMIMEType: "application/x-msdownload",
	})
	g.onCountToken(context.Background(), conn, Envelope{Event: EventCountToken, Payload: payload})

	if envs := drain(conn); len(envs) != 0 {
		t.Fatalf("unexpected events: %v", eventsOf(envs))
	}
}

func TestNewChatIDIsTimestampDerived(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	conn := NewConn("c1", 64)

	g.onNewChat(context.Background(), conn)

	envs := drain(conn)
	if len(envs) != 1 || envs[0].Event != EventChatCreated {
		t.Fatalf("events = %v", eventsOf(envs))
	}
	created := decodePayload[ChatCreatedPayload](t, envs[0])

	dot := strings.Index(created.ChatID, ".")
	if dot < 1 || len(created.ChatID)-dot-1 != 6 {
		t.Fatalf("chat id %q is not seconds.microseconds", created.ChatID)
	}
}

func TestSetGroundingEchoesState(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	conn := NewConn("c1", 64)
	ctx := context.Background()

	payload, _ := json.Marshal(SetGroundingPayload{Enabled: true})
	g.onSetGrounding(ctx, conn, Envelope{Event: EventSetGrounding, Payload: payload})

	envs := drain(conn)
	if len(envs) != 1 || envs[0].Event != EventGroundingUpdated {
		t.Fatalf("events = %v", eventsOf(envs))
	}
	echo := decodePayload[SetGroundingPayload](t, envs[0])
	if !echo.Enabled {
		t.Fatal("grounding state not echoed")
	}
	if !conn.grounding.Load() {
		t.Fatal("connection preference not stored")
	}

	var sawGrounding bool
	g.newSession = func(_ string, _ []history.ModelTurn, grounded bool) ModelSession {
		sawGrounding = grounded
		return &fakeSession{stream: &fakeStream{frags: textFragments("ok")}}
	}
	g.onSendMessage(ctx, conn, SendMessagePayload{
		Username:  "alice",
		ChatID:    "chat1",
		ModelName: "gemini-2.0-flash",
		Message:   "hi",
	})
	if !sawGrounding {
		t.Fatal("connection grounding preference not applied to the turn")
	}
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	conn := NewConn("c1", 64)
	ctx := context.Background()

	creds, _ := json.Marshal(CredentialsPayload{Username: "alice", Password: "secret1"})
	g.onRegister(ctx, conn, Envelope{Event: EventRegister, Payload: creds})
	g.onLogin(ctx, conn, Envelope{Event: EventLogin, Payload: creds})

	envs := drain(conn)
	if len(envs) != 2 {
		t.Fatalf("events = %v", eventsOf(envs))
	}

	reg := decodePayload[AuthResponsePayload](t, envs[0])
	if reg.Status != identity.StatusSuccess {
		t.Fatalf("register status = %q (%s)", reg.Status, reg.Message)
	}

	login := decodePayload[AuthResponsePayload](t, envs[1])
	if login.Status != identity.StatusSuccess || login.Username != "alice" || login.AutoLoginToken == "" {
		t.Fatalf("login response = %+v", login)
	}
}
