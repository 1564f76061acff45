package genai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"loom/cmd/internal/history"
)

// Stream is a lazy, finite, non-restartable sequence of response fragments.
//
// Recv returns io.EOF on normal exhaustion. Close abandons the stream without
// draining it; abandoning never blocks (it tears down the underlying response
// body). Recv after Close returns an error.
type Stream interface {
	Recv() (Fragment, error)
	Close() error
}

// ChatSession is one resumable upstream conversation. It is seeded with the
// persisted model-native log and maintains the curated history: a turn pair is
// appended only when a stream it produced is consumed to normal exhaustion,
// so cancelled or failed turns never enter the history.
//
// A session streams one turn at a time; it is not safe for concurrent Stream
// calls.
type ChatSession struct {
	client    *Client
	model     string
	grounding bool
	turns     []history.ModelTurn
}

// NewSession constructs a chat session resuming from prior turns.
func (c *Client) NewSession(model string, prior []history.ModelTurn, grounding bool) *ChatSession {
	return &ChatSession{
		client:    c,
		model:     model,
		grounding: grounding,
		turns:     append([]history.ModelTurn(nil), prior...),
	}
}

// History returns the session's curated turn history: the authoritative
// post-turn state to persist as the model-native log.
func (s *ChatSession) History() []history.ModelTurn {
	return append([]history.ModelTurn(nil), s.turns...)
}

// Stream sends one user turn and returns the lazy fragment sequence of the
// model's reply. file, when non-nil, is attached as an inline part ahead of
// the text.
func (s *ChatSession) Stream(ctx context.Context, text string, file *history.Blob) (Stream, error) {
	var parts []history.Part
	if file != nil {
		parts = append(parts, history.Part{InlineData: file})
	}
	parts = append(parts, history.Part{Text: text})
	userTurn := history.ModelTurn{Role: history.RoleUser, Parts: parts}

	req := generateRequest{
		Contents: append(append([]history.ModelTurn(nil), s.turns...), userTurn),
	}
	if si := s.client.cfg.SystemInstruction; si != "" {
		req.SystemInstruction = &systemInstruction{Parts: []history.Part{{Text: si}}}
	}
	if s.grounding {
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
		req.GenerationConfig = &generationConfig{ResponseModalities: []string{"TEXT"}}
	}

	resp, err := s.client.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("alt", "sse").
		SetBody(req).
		Post(modelPath(s.model) + ":streamGenerateContent")
	if err != nil {
		return nil, err
	}

	body := resp.RawBody()
	if resp.IsError() {
		defer func() { _ = body.Close() }()
		raw, _ := io.ReadAll(io.LimitReader(body, 1<<16))
		var e apiError
		if jsonErr := json.Unmarshal(raw, &e); jsonErr == nil && e.Error.Message != "" {
			return nil, fmt.Errorf("genai: generate: %s (%d)", e.Error.Message, resp.StatusCode())
		}
		return nil, fmt.Errorf("genai: generate: http %d", resp.StatusCode())
	}

	return &sseStream{
		body:     body,
		r:        bufio.NewReader(body),
		session:  s,
		userTurn: userTurn,
	}, nil
}

// sseStream parses server-sent events into fragments.
type sseStream struct {
	body     io.ReadCloser
	r        *bufio.Reader
	session  *ChatSession
	userTurn history.ModelTurn

	text   strings.Builder
	done   bool
	closed bool
}

// Recv returns the next fragment, or io.EOF on normal exhaustion.
func (s *sseStream) Recv() (Fragment, error) {
	if s.closed {
		return Fragment{}, errors.New("genai: recv on closed stream")
	}
	if s.done {
		return Fragment{}, io.EOF
	}

	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Fragment{}, fmt.Errorf("genai: read stream: %w", err)
			}
			if frag, ok, perr := s.parseData(strings.TrimSpace(line)); perr != nil {
				return Fragment{}, perr
			} else if ok {
				return frag, nil
			}
			s.finish()
			return Fragment{}, io.EOF
		}

		frag, ok, perr := s.parseData(strings.TrimSpace(line))
		if perr != nil {
			return Fragment{}, perr
		}
		if ok {
			return frag, nil
		}
	}
}

func (s *sseStream) parseData(line string) (Fragment, bool, error) {
	data, ok := strings.CutPrefix(line, "data: ")
	if !ok || data == "" {
		return Fragment{}, false, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Fragment{}, false, fmt.Errorf("genai: decode stream chunk: %w", err)
	}

	frag := Fragment{Usage: chunk.UsageMetadata}
	if len(chunk.Candidates) > 0 {
		cand := chunk.Candidates[0]
		frag.Grounding = cand.GroundingMetadata
		if cand.Content != nil {
			var b strings.Builder
			for _, p := range cand.Content.Parts {
				b.WriteString(p.Text)
			}
			frag.Text = b.String()
		}
	}

	s.text.WriteString(frag.Text)
	return frag, true, nil
}

// finish commits the consumed turn pair into the session's curated history.
// Runs only on normal exhaustion; a closed (cancelled) stream never commits.
func (s *sseStream) finish() {
	if s.done {
		return
	}
	s.done = true
	_ = s.body.Close()

	s.session.turns = append(s.session.turns,
		s.userTurn,
		history.TextTurn(history.RoleModel, s.text.String()),
	)
}

// Close abandons the stream. It does not drain; the underlying body is torn
// down so the transport can reclaim the connection.
func (s *sseStream) Close() error {
	if s.closed || s.done {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.body.Close()
}
