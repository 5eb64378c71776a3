// HTTP request primitive shared by the task, transcription, bitable and auth clients
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desertthunder/collectx/internal/shared"
)

// CodeTokenExpired is the business code the backend uses for an expired access token.
const CodeTokenExpired = 401002

// APIService makes raw HTTP requests against one base URL.
type APIService struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIService creates a new API service instance.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// BaseURL returns the URL requests are resolved against.
func (a *APIService) BaseURL() string { return a.baseURL }

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// OK reports a 2xx status.
func (r *APIResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *APIResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrProtocol, err)
	}
	return nil
}

// Request describes one outbound call.
type Request struct {
	Method string
	Path   string
	Token  string
	Header http.Header
	Body   any
}

// Do performs req and returns the raw response. Only transport failures are returned as errors.
func (a *APIService) Do(ctx context.Context, req Request) (*APIResponse, error) {
	var body io.Reader
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", shared.GenerateID())
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}

	var jsonData any
	if err := json.Unmarshal(data, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: data})
}

// Envelope is the {code, message, data} wrapper returned by the backend and the table store.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// Text returns the first non-empty message field.
func (e Envelope) Text() string {
	for _, s := range []string{e.Message, e.Msg, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// APIError is a non-success response. It unwraps to the sentinel that classifies it.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Kind       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	fmt.Fprintf(&b, ": status %d", e.StatusCode)
	if e.Code != 0 {
		fmt.Fprintf(&b, ", code %d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(", ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Kind }

// decodeEnvelope classifies resp and returns its envelope.
//
// 401 and [CodeTokenExpired] map to [shared.ErrUnauthorized], 404 to notFound, other non-2xx statuses to
// [shared.ErrTransient], and a non-zero business code on a 2xx response to rejected. A body that is not an
// envelope is a [shared.ErrProtocol].
func decodeEnvelope(resp *APIResponse, notFound, rejected error) (*Envelope, error) {
	var env Envelope
	decodeErr := json.Unmarshal(resp.Body, &env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, decodeErr == nil && env.Code == CodeTokenExpired:
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Text(), Kind: shared.ErrUnauthorized}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Text(), Kind: notFound}
	case !resp.OK():
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Text(), Kind: shared.ErrTransient}
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: response is not a JSON envelope: %v", shared.ErrProtocol, decodeErr)
	case env.Code != 0:
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Text(), Kind: rejected}
	}
	return &env, nil
}

// transportError wraps a network failure from [APIService.Do] as transient, preserving cancellation.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", shared.ErrTransient, err)
}

// decodeData unmarshals the envelope's data into v.
func decodeData(env *Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: response has no data", shared.ErrProtocol)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: failed to decode data: %v", shared.ErrProtocol, err)
	}
	return nil
}
