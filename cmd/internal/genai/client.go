// Package genai is the hosted generative-language provider boundary: a REST
// client for model listing and token counting, and resumable chat sessions
// that stream responses as lazy fragment sequences.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"loom/cmd/internal/history"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Config carries provider client configuration.
type Config struct {
	APIKey  string
	BaseURL string // defaults to the public endpoint; overridable for tests

	// StaticModels is the operator-configured model list merged into
	// ListModels output.
	StaticModels []string

	// SystemInstruction is prepended to every chat session, if set.
	SystemInstruction string

	// RequestTimeout bounds non-streaming calls. Streaming requests are
	// bounded by their context only; a slow stream is not an error.
	RequestTimeout time.Duration
}

// Client is a provider API client. Safe for concurrent use.
type Client struct {
	http   *resty.Client
	stream *resty.Client
	cfg    Config
}

// NewClient constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("genai: missing API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	base := func() *resty.Client {
		return resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Content-Type", "application/json").
			SetQueryParam("key", cfg.APIKey)
	}

	// Streaming responses must not be cut off by a client-wide timeout.
	return &Client{
		http:   base().SetTimeout(cfg.RequestTimeout),
		stream: base(),
		cfg:    cfg,
	}, nil
}

// StaticModels returns the operator-configured model list, trimmed,
// deduplicated and sorted.
func (c *Client) StaticModels() []string {
	return dedupSorted(c.cfg.StaticModels, nil)
}

// ListModels returns the union of the provider's model list and the static
// configured list, deduplicated and sorted.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	pageToken := ""

	for {
		req := c.http.R().SetContext(ctx).SetResult(&listModelsResponse{})
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}

		resp, err := req.Get("/v1beta/models")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, decodeAPIError("list models", resp)
		}

		page := resp.Result().(*listModelsResponse)
		for _, m := range page.Models {
			// Provider names come back as "models/<id>"; the static list and
			// client requests use bare ids.
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return dedupSorted(c.cfg.StaticModels, names), nil
}

// CountTokens returns the upstream token count for one inline attachment.
func (c *Client) CountTokens(ctx context.Context, model string, data []byte, mimeType string) (int, error) {
	if !KnownMIME(mimeType) {
		return 0, fmt.Errorf("genai: unrecognized mime type: %s", mimeType)
	}

	body := countTokensRequest{
		Contents: []history.ModelTurn{{
			Parts: []history.Part{{InlineData: &history.Blob{MIMEType: mimeType, Data: data}}},
		}},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&countTokensResponse{}).
		Post(modelPath(model) + ":countTokens")
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, decodeAPIError("count tokens", resp)
	}

	return resp.Result().(*countTokensResponse).TotalTokens, nil
}

func modelPath(model string) string {
	model = strings.TrimSpace(model)
	if strings.HasPrefix(model, "models/") {
		return "/v1beta/" + model
	}
	return "/v1beta/models/" + model
}

func decodeAPIError(op string, resp *resty.Response) error {
	var e apiError
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("genai: %s: %s (%d)", op, e.Error.Message, resp.StatusCode())
	}
	return fmt.Errorf("genai: %s: http %d", op, resp.StatusCode())
}

func dedupSorted(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
