// Package transport talks to the remote chat API and the media host. It never
// retries; callers decide what to do with a failure.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/telemetry"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultUploadTimeout = 2 * time.Minute
)

type Options struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	UploadTimeout time.Duration
	// RPS and Burst pace outgoing requests; RPS <= 0 disables pacing.
	RPS   float64
	Burst int

	UploadURL    string
	UploadPreset string
	Folder       string
	MaxDimension int
	Quality      int

	Metrics *telemetry.Metrics
	// Dial overrides the network dialer, used by tests.
	Dial fasthttp.DialFunc
}

type Client struct {
	opts    Options
	base    string
	hc      *fasthttp.Client
	limiter *rate.Limiter
	metrics *telemetry.Metrics
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	c := &Client{
		opts: opts,
		base: strings.TrimRight(opts.BaseURL, "/"),
		hc: &fasthttp.Client{
			Name:                "chatsync",
			Dial:                opts.Dial,
			ReadTimeout:         opts.UploadTimeout,
			WriteTimeout:        opts.UploadTimeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		metrics: opts.Metrics,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.call(ctx, "list_conversations", fasthttp.MethodGet, "/conversations", nil, &out)
	return out, err
}

// ListMessages returns one page of a conversation's history; page 1 holds
// the most recent messages.
func (c *Client) ListMessages(ctx context.Context, convID string, page, limit int) (*models.MessagePage, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/conversations/%s/messages?page=%d", url.PathEscape(convID), page)
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}
	var out models.MessagePage
	if err := c.call(ctx, "list_messages", fasthttp.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Page == 0 {
		out.Page = page
	}
	for i := range out.Messages {
		if out.Messages[i].ConversationID == "" {
			out.Messages[i].ConversationID = convID
		}
	}
	return &out, nil
}

// SendMessage posts a text message or a message referencing uploaded media.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	var out models.Message
	if err := c.call(ctx, "send_message", fasthttp.MethodPost, "/messages", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: send_message returned no message id", ErrInvalidResponse)
	}
	if out.ConversationID == "" {
		out.ConversationID = req.ConversationID
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.call(ctx, "delete_message", fasthttp.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, req models.MarkReadRequest) error {
	return c.call(ctx, "mark_read", fasthttp.MethodPost, "/messages/read", req, nil)
}

func (c *Client) SendTyping(ctx context.Context, req models.TypingRequest) error {
	return c.call(ctx, "typing", fasthttp.MethodPost, "/typing", req, nil)
}

func (c *Client) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.call(ctx, "create_conversation", fasthttp.MethodPost, "/conversations", req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: create_conversation returned no id", ErrInvalidResponse)
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	started := time.Now()
	err := c.doJSON(ctx, method, path, in, out)
	c.metrics.ObserveAPI(op, started, err)
	if err != nil {
		logger.Debug("api_request_failed", "op", op, "path", path, "error", err)
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	c.authorize(req)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(b)
	}

	if err := c.hc.DoDeadline(req, resp, c.deadline(ctx, c.opts.Timeout)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	return decodeResponse(resp.StatusCode(), resp.Body(), out)
}

func (c *Client) authorize(req *fasthttp.Request) {
	if c.opts.Token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.opts.Token)
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// deadline is the earlier of now+timeout and the context deadline.
func (c *Client) deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// decodeResponse unwraps the {"data": ...} envelope; bodies without one are
// decoded as-is.
func decodeResponse(status int, body []byte, out any) error {
	if status < 200 || status >= 300 {
		return parseAPIError(status, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if page, ok := out.(*models.MessagePage); ok {
		if err := json.Unmarshal(body, page); err != nil {
			return fmt.Errorf("decode message page: %w", err)
		}
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
