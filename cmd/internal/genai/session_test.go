package genai

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"loom/cmd/internal/history"
)

func newFakeStream(sess *ChatSession, payload string) *sseStream {
	body := io.NopCloser(strings.NewReader(payload))
	return &sseStream{
		body:     body,
		r:        bufio.NewReader(body),
		session:  sess,
		userTurn: history.TextTurn(history.RoleUser, "hello"),
	}
}

const ssePayload = "" +
	"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hel\"}]}}]}\n" +
	"\n" +
	"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"lo\"}]},\"groundingMetadata\":{\"groundingChunks\":[{\"web\":{\"title\":\"T1\",\"uri\":\"U1\"}}],\"webSearchQueries\":[\"q\"]}}],\"usageMetadata\":{\"totalTokenCount\":42}}\n" +
	"\n"

func TestSSEStreamRecv(t *testing.T) {
	t.Parallel()

	sess := &ChatSession{model: "gemini-test"}
	s := newFakeStream(sess, ssePayload)

	first, err := s.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if first.Text != "Hel" || first.Usage != nil || first.Grounding != nil {
		t.Fatalf("first=%+v", first)
	}

	second, err := s.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if second.Text != "lo" {
		t.Fatalf("second.Text=%q", second.Text)
	}
	if second.Usage == nil || second.Usage.TotalTokenCount != 42 {
		t.Fatalf("second.Usage=%+v", second.Usage)
	}
	if second.Grounding == nil || len(second.Grounding.GroundingChunks) != 1 {
		t.Fatalf("second.Grounding=%+v", second.Grounding)
	}

	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}

	// Normal exhaustion commits the turn pair into the curated history.
	turns := sess.History()
	if len(turns) != 2 {
		t.Fatalf("len(turns)=%d want=2", len(turns))
	}
	if turns[0].Role != history.RoleUser {
		t.Fatalf("turns[0].Role=%v", turns[0].Role)
	}
	if turns[1].Role != history.RoleModel || turns[1].Parts[0].Text != "Hello" {
		t.Fatalf("turns[1]=%+v", turns[1])
	}
}

func TestSSEStreamCloseDoesNotCommit(t *testing.T) {
	t.Parallel()

	sess := &ChatSession{model: "gemini-test"}
	s := newFakeStream(sess, ssePayload)

	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(sess.History()); got != 0 {
		t.Fatalf("history committed after Close: %d turns", got)
	}
	if _, err := s.Recv(); err == nil {
		t.Fatal("Recv after Close must fail")
	}
}

func TestSSEStreamBadChunk(t *testing.T) {
	t.Parallel()

	sess := &ChatSession{model: "gemini-test"}
	s := newFakeStream(sess, "data: {not json}\n")

	if _, err := s.Recv(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMIMEForFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{name: "paper.pdf", want: "application/pdf", ok: true},
		{name: "PHOTO.JPG", want: "image/jpeg", ok: true},
		{name: "song.flac", want: "audio/flac", ok: true},
		{name: "archive.zip", ok: false},
		{name: "noext", ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := MIMEForFilename(tc.name)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("MIMEForFilename(%q)=%q,%v want=%q,%v", tc.name, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestKnownMIME(t *testing.T) {
	t.Parallel()

	if !KnownMIME("application/pdf") {
		t.Fatal("pdf must be recognized")
	}
	if KnownMIME("application/zip") {
		t.Fatal("zip must be rejected")
	}
}

func TestDedupSorted(t *testing.T) {
	t.Parallel()

	got := dedupSorted([]string{" b ", "", "a"}, []string{"a", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}
}
