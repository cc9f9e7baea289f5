// Package kv talks to a remote key-value secret service over HTTP. The wire
// protocol matches Replit Database: GET {url}/{key}, POST {url} with a form
// body key=value, DELETE {url}/{key}.
//
// Replit Database clients store every value JSON-encoded, so a string set by
// them reads back quoted. Put writes values the same way and Get decodes a
// value that is a JSON string literal; anything else is returned as stored.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

const (
	maxValueBytes         = 1 << 20
	defaultRequestTimeout = 15 * time.Second
)

type Store struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(baseURL string, httpClient *http.Client) (*Store, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("secret service url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse secret service url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("secret service url must use http or https")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Store{baseURL: trimmed, httpClient: httpClient, requestTimeout: defaultRequestTimeout}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	resp, err := s.do(ctx, http.MethodGet, s.keyURL(key), nil)
	if err != nil {
		return "", fmt.Errorf("kv get %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("kv get %q: %w", key, domain.ErrSecretNotFound)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return "", fmt.Errorf("kv get %q: status %d", key, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxValueBytes))
	if err != nil {
		return "", fmt.Errorf("kv get %q: read body: %w", key, err)
	}

	return decodeValue(body), nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	form := url.Values{}
	form.Set(key, encodeValue(value))

	resp, err := s.do(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("kv put %q: status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	resp, err := s.do(ctx, http.MethodDelete, s.keyURL(key), nil)
	if err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("kv delete %q: status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *Store) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	requestCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		// The body is read by the caller, so cancel once it is closed.
		resp, err := s.send(requestCtx, method, endpoint, body)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return s.send(requestCtx, method, endpoint, body)
}

func (s *Store) send(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return s.httpClient.Do(req)
}

func encodeValue(value string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(value)
	return strings.TrimSuffix(buf.String(), "\n")
}

func decodeValue(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err == nil {
			return value
		}
	}
	return string(body)
}

func (s *Store) keyURL(key string) string {
	return s.baseURL + "/" + url.PathEscape(key)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("secret key is empty")
	}
	return nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
