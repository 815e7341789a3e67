package service

import (
	"log"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxAILogSnippetRunes = 512

// logInferenceRequest 记录一次推理请求，图片只记录长度。
func logInferenceRequest(req InferenceRequest) {
	image := "none"
	if req.ImageBase64 != "" {
		image = req.ImageMIME + ":" + strconv.Itoa(len(req.ImageBase64)) + "B"
	}
	log.Printf("[AI %s] request image=%s schema=%t prompt=%s", req.Model, image, req.Schema != nil, aiSnippet(req.Prompt))
}

// logInferenceResponse 记录推理结果摘要。
func logInferenceResponse(model string, status int, text string) {
	log.Printf("[AI %s] response status=%d text=%s", model, status, aiSnippet(text))
}

func aiSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	if utf8.RuneCountInString(trimmed) <= maxAILogSnippetRunes {
		return trimmed
	}
	return string([]rune(trimmed)[:maxAILogSnippetRunes]) + "…"
}
