package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"loom/cmd/identity"
	"loom/cmd/internal/genai"
	"loom/cmd/internal/history"
)

const (
	wsSubprotocolV1 = "loom.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 10 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// ModelSession is one multi-turn exchange with the model provider.
// *genai.ChatSession is the production implementation.
type ModelSession interface {
	Stream(ctx context.Context, text string, file *history.Blob) (genai.Stream, error)
	History() []history.ModelTurn
}

// Gateway is the WebSocket entrypoint for the chat front end.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, and routes validated envelopes to the account service, the
// conversation repository, and the model provider. Each connection handles
// at most one streaming turn at a time; cancel_stream flips that turn's
// cancellation handle through the Registry.
type Gateway struct {
	log      *slog.Logger
	accounts *identity.Service
	repo     *history.Repository
	client   *genai.Client
	cancels  *Registry

	// newSession is swappable so the streaming path can run against a fake
	// provider in tests.
	newSession func(model string, prior []history.ModelTurn, grounding bool) ModelSession

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, accounts *identity.Service, repo *history.Repository, client *genai.Client) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &Gateway{
		log:      log,
		accounts: accounts,
		repo:     repo,
		client:   client,
		cancels:  NewRegistry(),
	}
	g.newSession = func(model string, prior []history.ModelTurn, grounding bool) ModelSession {
		return client.NewSession(model, prior, grounding)
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("LOOM_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("LOOM_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("LOOM_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("LOOM_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("LOOM_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("LOOM_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("LOOM_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("LOOM_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("LOOM_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("LOOM_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the chat loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = wsConn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := wsConn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = wsConn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	wsConn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.connid.fail", "err", err)
		_ = wsConn.Close(websocket.StatusInternalError, "id")
		return
	}
	conn := NewConn(connID, g.sendQueueSize)

	activeConnections.Inc()
	defer activeConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close conn.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.cancels.Cancel(conn.ID)
			conn.Close()
			_ = wsConn.Close(code, reason)
			cancel()
		})
	}

	rl := newEventBudget(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case env := <-conn.Send:
				if err := writeEnvelope(ctx, wsConn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", conn.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := wsConn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", conn.ID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	var streams sync.WaitGroup

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, wsConn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, conn, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", conn.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, conn, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, conn, "bad_envelope", err.Error())
			continue readLoop
		}

		g.dispatch(ctx, conn, env, &streams)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	streams.Wait()
	g.cancels.Clear(conn.ID)
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// dispatch routes one validated envelope.
//
// send_message runs in its own goroutine so the read loop stays free to
// receive cancel_stream while the turn streams. Everything else is quick
// enough to handle inline.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, env Envelope, streams *sync.WaitGroup) {
	switch env.Event {
	case EventRegister:
		g.onRegister(ctx, conn, env)
	case EventLogin:
		g.onLogin(ctx, conn, env)
	case EventAutoLogin:
		g.onAutoLogin(ctx, conn, env)
	case EventGetModelList:
		g.onGetModelList(ctx, conn)
	case EventCountToken:
		g.onCountToken(ctx, conn, env)
	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.trySendError(ctx, conn, "bad_payload", "invalid payload")
			return
		}
		if !conn.streaming.CompareAndSwap(false, true) {
			g.trySendError(ctx, conn, "busy", "a response is already streaming")
			return
		}
		streams.Add(1)
		go func() {
			defer streams.Done()
			defer conn.streaming.Store(false)
			g.onSendMessage(ctx, conn, p)
		}()
	case EventCancelStream:
		g.cancels.Cancel(conn.ID)
	case EventDeleteMessage:
		g.onDeleteMessage(ctx, conn, env)
	case EventGetHistoryList:
		g.onGetHistoryList(ctx, conn, env)
	case EventLoadChat:
		g.onLoadChat(ctx, conn, env)
	case EventNewChat:
		g.onNewChat(ctx, conn)
	case EventDeleteChat:
		g.onDeleteChat(ctx, conn, env)
	case EventRenameChat:
		g.onRenameChat(ctx, conn, env)
	case EventToggleBookmark:
		g.onToggleBookmark(ctx, conn, env)
	case EventSetGrounding:
		g.onSetGrounding(ctx, conn, env)
	}
}

// ---- auth handlers ----

func (g *Gateway) onRegister(ctx context.Context, conn *Conn, env Envelope) {
	var p CredentialsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	res, err := g.accounts.Register(ctx, p.Username, p.Password)
	if err != nil {
		g.trySendError(ctx, conn, "register_failed", "internal error")
		return
	}
	g.emit(ctx, conn, EventRegisterResponse, authResponse(res))
}

func (g *Gateway) onLogin(ctx context.Context, conn *Conn, env Envelope) {
	var p CredentialsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	res, err := g.accounts.Login(ctx, p.Username, p.Password)
	if err != nil {
		g.trySendError(ctx, conn, "login_failed", "internal error")
		return
	}
	g.emit(ctx, conn, EventLoginResponse, authResponse(res))
}

func (g *Gateway) onAutoLogin(ctx context.Context, conn *Conn, env Envelope) {
	var p AutoLoginPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	res, err := g.accounts.AutoLogin(ctx, p.Token)
	if err != nil {
		g.trySendError(ctx, conn, "auto_login_failed", "internal error")
		return
	}
	g.emit(ctx, conn, EventAutoLoginResponse, authResponse(res))
}

func authResponse(res identity.Result) AuthResponsePayload {
	return AuthResponsePayload{
		Status:         res.Status,
		Message:        res.Message,
		Username:       res.Username,
		AutoLoginToken: res.AutoLoginToken,
	}
}

// ---- model handlers ----

func (g *Gateway) onGetModelList(ctx context.Context, conn *Conn) {
	models, err := g.client.ListModels(ctx)
	if err != nil {
		// Provider listing is best-effort; the static list keeps the UI usable.
		g.log.Info("models.list.fail", "err", err)
		models = g.client.StaticModels()
	}
	g.emit(ctx, conn, EventModelList, ModelListPayload{Models: models})
}

func (g *Gateway) onCountToken(ctx context.Context, conn *Conn, env Envelope) {
	var p CountTokenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}
	if !genai.KnownMIME(p.FileMIMEType) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(p.FileData)
	if err != nil {
		g.trySendError(ctx, conn, "bad_file", "invalid base64 file data")
		return
	}

	n, err := g.client.CountTokens(ctx, p.ModelName, data, p.FileMIMEType)
	if err != nil {
		g.log.Info("models.count_token.fail", "model", p.ModelName, "err", err)
		return
	}
	g.emit(ctx, conn, EventTotalTokens, TotalTokensPayload{TotalTokens: n})
}

func (g *Gateway) onSetGrounding(ctx context.Context, conn *Conn, env Envelope) {
	var p SetGroundingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}
	conn.grounding.Store(p.Enabled)
	g.emit(ctx, conn, EventGroundingUpdated, SetGroundingPayload{Enabled: p.Enabled})
}

// ---- streaming ----

func (g *Gateway) onSendMessage(ctx context.Context, conn *Conn, p SendMessagePayload) {
	if p.Username == "" || p.ChatID == "" || p.ModelName == "" || p.Message == "" {
		g.trySendError(ctx, conn, "bad_payload", "username, chat_id, model_name, and message are required")
		return
	}

	var (
		blob      *history.Blob
		fileLabel string
	)
	if p.FileData != "" {
		mime := p.FileMIMEType
		if mime == "" {
			mime, _ = genai.MIMEForFilename(p.FileName)
		}
		if !genai.KnownMIME(mime) {
			g.emit(ctx, conn, EventResponseError, StreamErrorPayload{
				Error:  "unsupported attachment type",
				ChatID: p.ChatID,
			})
			return
		}
		data, err := base64.StdEncoding.DecodeString(p.FileData)
		if err != nil {
			g.emit(ctx, conn, EventResponseError, StreamErrorPayload{
				Error:  "invalid base64 file data",
				ChatID: p.ChatID,
			})
			return
		}
		blob = &history.Blob{MIMEType: mime, Data: data}
		fileLabel = p.FileName
	}

	flag := g.cancels.Reset(conn.ID)
	defer g.cancels.Clear(conn.ID)

	created, meta, err := g.repo.EnsureMeta(ctx, p.Username, p.ChatID, p.Message)
	if err != nil {
		g.streamError(ctx, conn, p.ChatID, err)
		return
	}
	if created {
		g.emit(ctx, conn, EventHistoryList, HistoryListPayload{History: meta})
	}

	if err := g.repo.AppendUser(ctx, p.Username, p.ChatID, p.Message, fileLabel); err != nil {
		g.streamError(ctx, conn, p.ChatID, err)
		return
	}

	prior, err := g.repo.LoadModelLog(ctx, p.Username, p.ChatID)
	if err != nil {
		g.streamError(ctx, conn, p.ChatID, err)
		return
	}

	grounding := p.GroundingEnabled || conn.grounding.Load()
	session := g.newSession(p.ModelName, prior, grounding)
	st, err := session.Stream(ctx, p.Message, blob)
	if err != nil {
		g.streamError(ctx, conn, p.ChatID, err)
		return
	}

	streamsStarted.Inc()
	res := ConsumeStream(st, flag, func(text string) bool {
		return g.emit(ctx, conn, EventResponseChunk, ChunkPayload{Chunk: text, ChatID: p.ChatID})
	})
	streamOutcomes.WithLabelValues(res.State.String()).Inc()

	switch res.State {
	case StateCompleted:
		suffix := responseSuffix(p.ModelName, res)
		if suffix != "" {
			g.emit(ctx, conn, EventResponseChunk, ChunkPayload{Chunk: suffix, ChatID: p.ChatID})
		}
		if err := g.repo.AppendModel(ctx, p.Username, p.ChatID, res.Text+suffix); err != nil {
			g.streamError(ctx, conn, p.ChatID, err)
			return
		}
		if err := g.repo.ReplaceModelLog(ctx, p.Username, p.ChatID, session.History()); err != nil {
			g.streamError(ctx, conn, p.ChatID, err)
			return
		}
		g.emit(ctx, conn, EventResponseComplete, CompletePayload{ChatID: p.ChatID})

	case StateCancelled:
		// No terminal event. The user's prompt stays persisted; the partial
		// model output is discarded.
		g.log.Debug("stream.cancelled", "conn_id", conn.ID, "chat_id", p.ChatID)

	case StateFailed:
		g.streamError(ctx, conn, p.ChatID, res.Err)
	}
}

func (g *Gateway) streamError(ctx context.Context, conn *Conn, chatID string, err error) {
	g.log.Info("stream.fail", "conn_id", conn.ID, "chat_id", chatID, "err", err)
	g.emit(ctx, conn, EventResponseError, StreamErrorPayload{Error: err.Error(), ChatID: chatID})
}

// ---- history handlers ----

func (g *Gateway) onDeleteMessage(ctx context.Context, conn *Conn, env Envelope) {
	var p DeleteMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	if err := g.repo.DeleteFromDisplayIndex(ctx, p.Username, p.ChatID, p.MessageIndex); err != nil {
		g.trySendError(ctx, conn, "delete_failed", err.Error())
		return
	}

	msgs, err := g.repo.LoadDisplayLog(ctx, p.Username, p.ChatID)
	if err != nil {
		g.trySendError(ctx, conn, "delete_failed", err.Error())
		return
	}
	g.emit(ctx, conn, EventMessageDeleted, MessageDeletedPayload{ChatID: p.ChatID, Messages: msgs})

	// Deleting index 0 removes the whole conversation from the list.
	if p.MessageIndex <= 0 {
		g.emitHistoryList(ctx, conn, p.Username)
	}
}

func (g *Gateway) onGetHistoryList(ctx context.Context, conn *Conn, env Envelope) {
	var p UserPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}
	g.emitHistoryList(ctx, conn, p.Username)
}

func (g *Gateway) onLoadChat(ctx context.Context, conn *Conn, env Envelope) {
	var p ChatRefPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	msgs, err := g.repo.LoadDisplayLog(ctx, p.Username, p.ChatID)
	if err != nil {
		g.trySendError(ctx, conn, "load_failed", err.Error())
		return
	}
	g.emit(ctx, conn, EventChatLoaded, ChatLoadedPayload{ChatID: p.ChatID, Messages: msgs})
}

func (g *Gateway) onNewChat(ctx context.Context, conn *Conn) {
	g.emit(ctx, conn, EventChatCreated, ChatCreatedPayload{ChatID: NewChatID(time.Now().UTC())})
}

func (g *Gateway) onDeleteChat(ctx context.Context, conn *Conn, env Envelope) {
	var p ChatRefPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	if err := g.repo.DeleteConversation(ctx, p.Username, p.ChatID); err != nil {
		g.trySendError(ctx, conn, "delete_failed", err.Error())
		return
	}
	g.emit(ctx, conn, EventChatDeleted, ChatDeletedPayload{ChatID: p.ChatID})
	g.emitHistoryList(ctx, conn, p.Username)
}

func (g *Gateway) onRenameChat(ctx context.Context, conn *Conn, env Envelope) {
	var p RenameChatPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	ok, meta, err := g.repo.Rename(ctx, p.Username, p.ChatID, p.NewTitle)
	if err != nil {
		g.trySendError(ctx, conn, "rename_failed", err.Error())
		return
	}
	if !ok {
		g.trySendError(ctx, conn, "rename_failed", "unknown chat")
		return
	}
	g.emit(ctx, conn, EventChatRenamed, ChatRenamedPayload{ChatID: p.ChatID, NewTitle: p.NewTitle})
	g.emit(ctx, conn, EventHistoryList, HistoryListPayload{History: meta})
}

func (g *Gateway) onToggleBookmark(ctx context.Context, conn *Conn, env Envelope) {
	var p ChatRefPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, conn, "bad_payload", "invalid payload")
		return
	}

	ok, bookmarked, meta, err := g.repo.ToggleBookmark(ctx, p.Username, p.ChatID)
	if err != nil {
		g.trySendError(ctx, conn, "bookmark_failed", err.Error())
		return
	}
	if !ok {
		g.trySendError(ctx, conn, "bookmark_failed", "unknown chat")
		return
	}
	g.emit(ctx, conn, EventBookmarkToggled, BookmarkToggledPayload{ChatID: p.ChatID, Bookmarked: bookmarked})
	g.emit(ctx, conn, EventHistoryList, HistoryListPayload{History: meta})
}

func (g *Gateway) emitHistoryList(ctx context.Context, conn *Conn, user string) {
	meta, err := g.repo.ListConversations(ctx, user)
	if err != nil {
		g.trySendError(ctx, conn, "history_failed", err.Error())
		return
	}
	g.emit(ctx, conn, EventHistoryList, HistoryListPayload{History: meta})
}

// ---- send helpers ----

func (g *Gateway) emit(ctx context.Context, conn *Conn, event string, payload any) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("ws.marshal.fail", "event", event, "err", err)
		return false
	}
	return g.enqueue(ctx, conn, newEnvelope(event, raw, time.Now().UTC()))
}

func (g *Gateway) trySendError(ctx context.Context, conn *Conn, code, msg string) {
	_ = g.emit(ctx, conn, EventError, ErrorPayload{Code: code, Message: msg})
}

func (g *Gateway) enqueue(ctx context.Context, conn *Conn, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-conn.Done():
		return false
	case conn.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(event string, payload json.RawMessage, ts time.Time) Envelope {
	id, _ := NewEnvelopeID(ts)
	return Envelope{
		Event:   event,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
