package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/collectx/internal/shared"
	tu "github.com/desertthunder/collectx/internal/testing"
)

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("with custom BaseURL and client", func(t *testing.T) {
			customClient := &http.Client{}
			srv := NewAPIService("http://example.com/api/", customClient)

			if srv.BaseURL() != "http://example.com/api" {
				t.Errorf("expected trimmed baseURL, got %s", srv.BaseURL())
			}
			if srv.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("with empty BaseURL", func(t *testing.T) {
			srv := NewAPIService("", nil)

			if srv.baseURL != "http://localhost:3000" {
				t.Errorf("expected default baseURL, got %s", srv.baseURL)
			}
			if srv.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("Do", func(t *testing.T) {
		t.Run("sends headers and JSON body", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST method, got %s", r.Method)
				}
				if r.URL.Path != "/api/collect/video" {
					t.Errorf("expected path '/api/collect/video', got %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("expected bearer token, got %q", got)
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("expected JSON content type, got %s", r.Header.Get("Content-Type"))
				}
				if r.Header.Get("X-Request-ID") == "" {
					t.Error("expected a request id")
				}
				if r.Header.Get("X-Trace") != "abc" {
					t.Error("expected custom header to be forwarded")
				}

				var body map[string]any
				json.NewDecoder(r.Body).Decode(&body)
				if body["key"] != "value" {
					t.Errorf("expected body key 'value', got %v", body["key"])
				}

				w.Header().Set("X-Custom-Header", "test-value")
				json.NewEncoder(w).Encode(map[string]string{"status": "success"})
			}))
			defer server.Close()

			srv := NewAPIService(server.URL+"/api", nil)
			resp, err := srv.Do(context.Background(), Request{
				Method: http.MethodPost,
				Path:   "/collect/video",
				Token:  "tok",
				Header: http.Header{"X-Trace": {"abc"}},
				Body:   map[string]string{"key": "value"},
			})

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !resp.OK() || !resp.IsJSON {
				t.Errorf("expected OK JSON response, got %d json=%v", resp.StatusCode, resp.IsJSON)
			}
			if resp.Headers.Get("X-Custom-Header") != "test-value" {
				t.Errorf("expected custom header 'test-value', got %s", resp.Headers.Get("X-Custom-Header"))
			}
		})

		t.Run("omits authorization without token", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "" {
					t.Error("expected no Authorization header")
				}
				if r.Header.Get("Content-Type") != "" {
					t.Error("expected no Content-Type without a body")
				}
				w.Write([]byte("plain text response"))
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Get(context.Background(), "/test")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.IsJSON || resp.JSONData != nil {
				t.Error("expected response to not be JSON")
			}
			if string(resp.Body) != "plain text response" {
				t.Errorf("expected body 'plain text response', got %s", string(resp.Body))
			}
		})

		t.Run("raw body is sent as is", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if string(body) != `{"raw":true}` {
					t.Errorf("unexpected body %s", body)
				}
				w.WriteHeader(http.StatusCreated)
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Post(context.Background(), "/raw", []byte(`{"raw":true}`))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("expected 201, got %d", resp.StatusCode)
			}
		})

		t.Run("unencodable body", func(t *testing.T) {
			srv := NewAPIService("http://example.com", nil)
			_, err := srv.Do(context.Background(), Request{Method: http.MethodPost, Body: make(chan int)})

			if err == nil || !strings.Contains(err.Error(), "failed to encode request body") {
				t.Errorf("expected encode error, got %v", err)
			}
		})

		t.Run("failed request creation", func(t *testing.T) {
			_, err := NewAPIService("http://example.com", nil).Get(context.Background(), "/test\x00invalid")

			if err == nil || !strings.Contains(err.Error(), "failed to create request") {
				t.Errorf("expected 'failed to create request' error, got %v", err)
			}
		})

		t.Run("failed HTTP request", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection failed"))}

			_, err := NewAPIService("http://example.com", client).Get(context.Background(), "/test")

			if err == nil || !strings.Contains(err.Error(), "request failed") {
				t.Errorf("expected 'request failed' error, got %v", err)
			}
		})

		t.Run("failed response body read", func(t *testing.T) {
			client := &http.Client{
				Transport: tu.NewMockRoundTripper(&http.Response{
					StatusCode: http.StatusOK,
					Body:       &tu.FCloser{},
					Header:     http.Header{},
				}, nil),
			}

			_, err := NewAPIService("http://example.com", client).Get(context.Background(), "/test")

			if err == nil || !strings.Contains(err.Error(), "failed to read response") {
				t.Errorf("expected 'failed to read response' error, got %v", err)
			}
		})

		t.Run("with canceled context", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := NewAPIService(server.URL, nil).Get(ctx, "/test")
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
			if errors.Is(transportError(err), shared.ErrTransient) {
				t.Error("expected cancellation not to be classified as transient")
			}
		})
	})
}

func TestDecodeEnvelope(t *testing.T) {
	notFound := shared.ErrJobNotFound
	rejected := shared.ErrSubmissionRejected

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"Success", http.StatusOK, `{"code":0,"data":{"taskId":"t1"}}`, nil},
		{"HTTP Unauthorized", http.StatusUnauthorized, `{"code":401,"message":"unauthorized"}`, shared.ErrUnauthorized},
		{"Token Expired Code", http.StatusOK, `{"code":401002,"message":"token expired"}`, shared.ErrUnauthorized},
		{"Not Found", http.StatusNotFound, `{"code":404}`, notFound},
		{"Server Error", http.StatusInternalServerError, `oops`, shared.ErrTransient},
		{"Rate Limited", http.StatusTooManyRequests, `{}`, shared.ErrTransient},
		{"Business Rejection", http.StatusOK, `{"code":1001,"message":"quota exceeded"}`, rejected},
		{"Not JSON", http.StatusOK, `<html></html>`, shared.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &APIResponse{StatusCode: tt.status, Body: []byte(tt.body)}
			env, err := decodeEnvelope(resp, notFound, rejected)

			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if env == nil || len(env.Data) == 0 {
					t.Error("expected envelope data")
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("APIError carries message", func(t *testing.T) {
		resp := &APIResponse{StatusCode: http.StatusOK, Body: []byte(`{"code":1001,"msg":"quota exceeded"}`)}
		_, err := decodeEnvelope(resp, notFound, rejected)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Code != 1001 || apiErr.Message != "quota exceeded" {
			t.Errorf("unexpected error details: %+v", apiErr)
		}
		if !strings.Contains(err.Error(), "code 1001") {
			t.Errorf("expected code in message, got %s", err.Error())
		}
	})

	t.Run("missing data", func(t *testing.T) {
		var v map[string]any
		if err := decodeData(&Envelope{}, &v); !errors.Is(err, shared.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
	})
}

func TestStaticToken(t *testing.T) {
	var seen string
	err := StaticToken("fixed").Do(context.Background(), func(_ context.Context, token string) error {
		seen = token
		return nil
	})
	if err != nil || seen != "fixed" {
		t.Errorf("expected fixed token, got %q (%v)", seen, err)
	}
}
