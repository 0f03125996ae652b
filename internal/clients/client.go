// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTimeout = 10 * time.Second

// base is the transport shared by the typed clients. Error envelopes come
// back as *apperr.Error, so errors.Is against the domain sentinels works
// across the wire.
type base struct {
	baseURL string
	http    *http.Client
}

func newBase(baseURL string, hc *http.Client) base {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return base{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (b base) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := ctx.Value(tokenKey{}).(string); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope web.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return &apperr.Error{
		Kind:    kindFor(resp.StatusCode),
		Code:    envelope.Error.Code,
		Message: envelope.Error.Message,
	}
}

func kindFor(status int) apperr.Kind {
	switch status {
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusUnauthorized:
		return apperr.KindUnauthorized
	case http.StatusTooManyRequests:
		return apperr.KindRateLimited
	default:
		return apperr.KindInternal
	}
}

type tokenKey struct{}

// WithToken makes calls made with ctx carry a bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}
