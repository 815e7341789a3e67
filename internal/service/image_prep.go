package service

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	maxImageEdge     = 1024
	imageJPEGQuality = 80
	// 解码前的原始图片上限
	maxRawImageBytes = 12 << 20
)

var (
	ErrImageEmpty       = errors.New("image is empty")
	ErrImageTooLarge    = errors.New("image is too large")
	ErrImageUndecodable = errors.New("image format is not supported")
)

// PrepareImage 将图片缩放到 1024x1024 以内并重新编码为 JPEG，返回不带 data URL 前缀的 base64。
func PrepareImage(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrImageEmpty
	}
	if len(raw) > maxRawImageBytes {
		return "", ErrImageTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageUndecodable, err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxImageEdge || height > maxImageEdge {
		if width > height {
			height = height * maxImageEdge / width
			width = maxImageEdge
		} else {
			width = width * maxImageEdge / height
			height = maxImageEdge
		}
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: imageJPEGQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImagePayload 解析客户端上传的 base64 图片，兼容 data:image/...;base64, 前缀。
func DecodeImagePayload(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if idx := strings.Index(encoded, ","); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	if encoded == "" {
		return nil, ErrImageEmpty
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUndecodable, err)
	}
	return raw, nil
}
