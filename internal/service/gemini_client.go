package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrAIAPIKeyMissing 未配置推理服务的 API key。
var ErrAIAPIKeyMissing = errors.New("api key is required")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// InferenceRequest 一次结构化推理请求；ImageBase64 为空时只发送文本。
type InferenceRequest struct {
	Model       string
	Prompt      string
	ImageBase64 string
	ImageMIME   string
	Schema      map[string]interface{}
}

// InferenceClient 是推理协作者，NutritionService 只通过 Invoker 调用它。
type InferenceClient interface {
	Generate(ctx context.Context, req InferenceRequest) (string, error)
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiClient 调用 generateContent 接口并要求返回 JSON。
type GeminiClient struct {
	http    httpDoer
	baseURL string
	apiKey  string
}

// NewGeminiClient 创建客户端，baseURL 为空时使用官方地址。
func NewGeminiClient(baseURL, apiKey string) *GeminiClient {
	c := &GeminiClient{
		http:   &http.Client{Timeout: 120 * time.Second},
		apiKey: strings.TrimSpace(apiKey),
	}
	c.SetBaseURL(baseURL)
	return c
}

func (c *GeminiClient) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: 120 * time.Second}
		return
	}
	c.http = client
}

func (c *GeminiClient) SetBaseURL(base string) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	c.baseURL = base
}

// Generate 发送请求并返回首个候选的文本。
// 429 或 RESOURCE_EXHAUSTED 返回 Transient 的 InferenceError，其余 HTTP 错误为终止性错误。
func (c *GeminiClient) Generate(ctx context.Context, req InferenceRequest) (string, error) {
	if c.apiKey == "" {
		return "", &InferenceError{Err: ErrAIAPIKeyMissing}
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return "", &InferenceError{Err: errors.New("model is required")}
	}

	parts := make([]geminiPart, 0, 2)
	if req.ImageBase64 != "" {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		req.ImageMIME = mime
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mime, Data: req.ImageBase64}})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})
	req.Model = model
	logInferenceRequest(req)

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &InferenceError{Err: fmt.Errorf("构造请求失败: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &InferenceError{Err: fmt.Errorf("创建请求失败: %w", err)}
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "streakline-ai/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &InferenceError{Err: fmt.Errorf("请求推理接口失败: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &InferenceError{Err: fmt.Errorf("读取响应失败: %w", err)}
	}

	var parsed geminiResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(parsed.Error.Message)
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		if msg == "" {
			msg = resp.Status
		}
		transient := resp.StatusCode == http.StatusTooManyRequests || parsed.Error.Status == "RESOURCE_EXHAUSTED"
		return "", &InferenceError{
			Transient:  transient,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("推理接口返回错误 %d：%s", resp.StatusCode, msg),
		}
	}
	if decodeErr != nil {
		return "", &InferenceError{Err: fmt.Errorf("解析响应失败: %w", decodeErr)}
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &InferenceError{Err: errors.New("推理接口未返回结果")}
	}

	text := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	logInferenceResponse(model, resp.StatusCode, text)
	return text, nil
}
