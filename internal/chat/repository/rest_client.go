package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StatusError collaborator answered with a non 2xx status
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// RestClient thin wrapper of fiber client agent for the chat REST API
type RestClient struct {
	baseURL string
	timeout time.Duration
	token   string
}

// NewRestClient create RestClient, token 會放在 Authorization header
func NewRestClient(baseURL string, timeout time.Duration, token string) *RestClient {
	return &RestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		token:   token,
	}
}

func (c *RestClient) get(ctx context.Context, path string, query url.Values, out any) error {
	a := fiber.Get(c.url(path))
	if len(query) > 0 {
		a.QueryString(query.Encode())
	}
	return c.do(ctx, fiber.MethodGet, path, a, out)
}

func (c *RestClient) send(ctx context.Context, method, path string, body, out any) error {
	var a *fiber.Agent
	switch method {
	case fiber.MethodPost:
		a = fiber.Post(c.url(path))
	case fiber.MethodPatch:
		a = fiber.Patch(c.url(path))
	case fiber.MethodPut:
		a = fiber.Put(c.url(path))
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	a.JSON(body)
	return c.do(ctx, method, path, a, out)
}

func (c *RestClient) url(path string) string {
	return c.baseURL + path
}

// do 執行 request, ctx 的 deadline 會縮短 agent timeout
func (c *RestClient) do(ctx context.Context, method, path string, a *fiber.Agent, out any) error {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout > 0 {
		a.Timeout(timeout)
	}
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%s %s: %w", method, path, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return &StatusError{Method: method, Path: path, Code: code, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
