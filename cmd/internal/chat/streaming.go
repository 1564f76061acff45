package chat

import (
	"errors"
	"io"

	"loom/cmd/internal/genai"
)

// State is the terminal condition of one streaming turn.
type State uint8

const (
	StateStreaming State = iota
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamResult is the outcome of consuming a model fragment stream.
//
// Text holds the accumulated model output. Usage is the last usage metadata
// observed (the provider repeats a running total per fragment). Grounding
// holds the citations collected across all fragments. Err is set only when
// State is StateFailed.
type StreamResult struct {
	State     State
	Text      string
	Usage     *genai.UsageMetadata
	Grounding *groundingCollector
	Err       error
}

// ConsumeStream drains a fragment stream, forwarding each fragment's text
// through forward and checking the cancellation handle at every fragment
// boundary.
//
// Cancellation is cooperative: it takes effect before the next Recv, never
// mid-fragment. On cancellation (or when forward reports the consumer is
// gone) the stream is closed without draining, so the session's curated
// history is left untouched. A forward callback returning false is treated
// as cancellation.
func ConsumeStream(st genai.Stream, flag *Flag, forward func(text string) bool) StreamResult {
	res := StreamResult{
		State:     StateStreaming,
		Grounding: newGroundingCollector(),
	}

	for {
		if flag.Cancelled() {
			_ = st.Close()
			res.State = StateCancelled
			return res
		}

		frag, err := st.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				res.State = StateCompleted
				return res
			}
			_ = st.Close()
			res.State = StateFailed
			res.Err = err
			return res
		}

		if frag.Usage != nil {
			res.Usage = frag.Usage
		}
		res.Grounding.Add(frag.Grounding)

		if frag.Text == "" {
			continue
		}
		res.Text += frag.Text
		fragmentsForwarded.Inc()

		if !forward(frag.Text) {
			_ = st.Close()
			res.State = StateCancelled
			return res
		}
	}
}

// responseSuffix renders the trailer appended to a completed turn: the
// model/token footer (when usage was reported) followed by the citation
// block (when grounded).
func responseSuffix(model string, res StreamResult) string {
	var s string
	if res.Usage != nil {
		s = usageFooter(model, res.Usage.TotalTokenCount)
	}
	return s + res.Grounding.Block()
}
