package aigues

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aiguesbcn/aigues/pkg/log"
	"golang.org/x/time/rate"
)

// dispatcher issues single requests against the provider host and classifies
// the responses. Each driver owns one with its own default headers.
type dispatcher struct {
	session *Session
	headers http.Header
	limiter *rate.Limiter
}

type response struct {
	StatusCode int
	// Body is the JSON payload with single element arrays unwrapped, or the
	// raw body when the response wasn't JSON.
	Body []byte
	JSON bool
}

// decode unmarshals the JSON body into dest.
func (r *response) decode(dest any) error {
	if !r.JSON {
		return fmt.Errorf("%w: body is not json", ErrUnexpectedResponse)
	}
	if err := json.Unmarshal(r.Body, dest); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return nil
}

// indexed keys such as assignationStatus[0] are sent with literal brackets
var queryBrackets = strings.NewReplacer("%5B", "[", "%5D", "]")

func (d *dispatcher) url(path string, params url.Values) (string, error) {
	u := *d.session.baseURL
	var err error
	u.Path, err = url.JoinPath(u.Path, path)
	if err != nil {
		return "", err
	}
	u.RawQuery = queryBrackets.Replace(params.Encode())
	return u.String(), nil
}

// query performs one request. body, when not nil, is sent as JSON. Caller
// headers override the defaults.
func (d *dispatcher) query(ctx context.Context, method, path string, params url.Values, body any, headers http.Header) (*response, error) {
	u, err := d.url(path, params)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range d.headers {
		req.Header[k] = v
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	log.Ctx(ctx).DebugContext(ctx, "querying provider", slog.String("method", method), slog.String("path", path))
	resp, err := d.session.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "query done", slog.String("path", path), slog.Int("code", resp.StatusCode))

	res := &response{StatusCode: resp.StatusCode, Body: raw}
	msg := string(raw)
	if payload, ok := unwrapJSON(raw); ok {
		res.Body = payload
		res.JSON = true
		if m, ok := jsonMessage(payload); ok {
			msg = m
		}
	}
	d.session.lastResponse = res.Body

	if kind := classifyStatus(resp.StatusCode); kind != nil {
		serr := &StatusError{StatusCode: resp.StatusCode, Message: msg, kind: kind}
		if serr.TokenRevoked() {
			log.Ctx(ctx).InfoContext(ctx, "token revoked, clearing session")
			d.session.ClearToken()
		}
		return res, serr
	}
	return res, nil
}

// unwrapJSON returns the JSON payload of raw with a single element array
// replaced by its element. ok is false when raw isn't JSON.
func unwrapJSON(raw []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}
	if !json.Valid(trimmed) {
		return nil, false
	}
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err == nil && len(list) == 1 {
			return bytes.TrimSpace(list[0]), true
		}
	}
	return trimmed, true
}

// jsonMessage extracts the human readable "message" field of an object.
func jsonMessage(payload []byte) (string, bool) {
	var obj struct {
		Message *string `json:"message"`
	}
	if len(payload) == 0 || payload[0] != '{' {
		return "", false
	}
	if err := json.Unmarshal(payload, &obj); err != nil || obj.Message == nil {
		return "", false
	}
	return *obj.Message, true
}
