package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeHTTPClient struct {
	handler func(*http.Request) (*http.Response, error)
}

func (f fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return f.handler(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestGeminiClientGenerate(t *testing.T) {
	client := NewGeminiClient("https://example.test/v1beta/", "secret")
	client.SetHTTPClient(fakeHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "https://example.test/v1beta/models/gemini-test:generateContent" {
			t.Fatalf("unexpected endpoint %s", req.URL)
		}
		if req.Header.Get("x-goog-api-key") != "secret" {
			t.Fatalf("missing api key header")
		}

		var payload geminiRequest
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		parts := payload.Contents[0].Parts
		if len(parts) != 2 || parts[0].InlineData == nil || parts[0].InlineData.Data != "aGVsbG8=" || parts[1].Text != "describe" {
			t.Fatalf("unexpected parts: %+v", parts)
		}
		if payload.GenerationConfig.ResponseMimeType != "application/json" {
			t.Fatalf("expected json response type")
		}

		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":" {\"name\":\"rice\"} "}]}}]}`), nil
	}})

	text, err := client.Generate(context.Background(), InferenceRequest{Model: "gemini-test", Prompt: "describe", ImageBase64: "aGVsbG8="})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text != `{"name":"rice"}` {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestGeminiClientClassifiesErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`, true},
		{"exhausted status", http.StatusForbidden, `{"error":{"code":403,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"invalid schema","status":"INVALID_ARGUMENT"}}`, false},
		{"html error", http.StatusBadGateway, `<html>bad gateway</html>`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewGeminiClient("", "secret")
			client.SetHTTPClient(fakeHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			}})

			_, err := client.Generate(context.Background(), InferenceRequest{Model: "m", Prompt: "p"})
			var inferenceErr *InferenceError
			if !errors.As(err, &inferenceErr) {
				t.Fatalf("expected InferenceError, got %v", err)
			}
			if inferenceErr.Transient != tc.transient || inferenceErr.StatusCode != tc.status {
				t.Fatalf("unexpected classification: %+v", inferenceErr)
			}
			if IsTransient(err) != tc.transient {
				t.Fatalf("IsTransient disagrees with client classification")
			}
		})
	}
}

func TestGeminiClientRequiresAPIKey(t *testing.T) {
	client := NewGeminiClient("", " ")
	client.SetHTTPClient(fakeHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
		t.Fatal("request should not be sent without api key")
		return nil, nil
	}})

	_, err := client.Generate(context.Background(), InferenceRequest{Model: "m", Prompt: "p"})
	if !errors.Is(err, ErrAIAPIKeyMissing) || IsTransient(err) {
		t.Fatalf("expected terminal ErrAIAPIKeyMissing, got %v", err)
	}
}

func TestGeminiClientEmptyCandidates(t *testing.T) {
	client := NewGeminiClient("", "secret")
	client.SetHTTPClient(fakeHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader([]byte(`{"candidates":[]}`)))}, nil
	}})

	if _, err := client.Generate(context.Background(), InferenceRequest{Model: "m", Prompt: "p"}); err == nil || IsTransient(err) {
		t.Fatalf("expected terminal error for empty candidates, got %v", err)
	}
}
