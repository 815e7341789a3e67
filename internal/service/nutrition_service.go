package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FoodAnalysis 单份食物的营养估算
type FoodAnalysis struct {
	Name     string  `json:"name"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
}

// BodyAnalysis 体态扫描给出的每日营养目标
type BodyAnalysis struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fats     float64 `json:"fats"`
	Analysis string  `json:"analysis"`
}

// FoodResult 带缓存与配额信息的食物分析结果
type FoodResult struct {
	FoodAnalysis
	Cached bool          `json:"cached"`
	Quota  QuotaDecision `json:"-"`
}

// BodyResult 体态分析结果
type BodyResult struct {
	BodyAnalysis
	Quota QuotaDecision `json:"-"`
}

// QuotaConsumer 由 QuotaService 实现。
type QuotaConsumer interface {
	CheckAndConsume(ctx context.Context, userID string, resource QuotaResource, tier Tier) (QuotaDecision, error)
}

var ErrFoodDescriptionRequired = errors.New("food description is required")

var foodSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"name":     map[string]interface{}{"type": "STRING"},
		"calories": map[string]interface{}{"type": "NUMBER"},
		"protein":  map[string]interface{}{"type": "NUMBER"},
		"carbs":    map[string]interface{}{"type": "NUMBER"},
		"fats":     map[string]interface{}{"type": "NUMBER"},
	},
	"required": []string{"name", "calories", "protein", "carbs", "fats"},
}

var bodySchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"calories": map[string]interface{}{"type": "NUMBER"},
		"protein":  map[string]interface{}{"type": "NUMBER"},
		"carbs":    map[string]interface{}{"type": "NUMBER"},
		"fats":     map[string]interface{}{"type": "NUMBER"},
		"analysis": map[string]interface{}{"type": "STRING"},
	},
	"required": []string{"calories", "protein", "carbs", "fats", "analysis"},
}

// NutritionService 组合缓存、配额与重试调用推理服务。
// 顺序固定为：查缓存 → 扣配额 → 带退避调用 → 写缓存；重试不会重复扣配额。
type NutritionService struct {
	quota     QuotaConsumer
	tiers     TierResolver
	inference InferenceClient
	invoker   *Invoker
	policy    RetryPolicy
	cache     *ResultCache[FoodAnalysis]
	foodModel string
	bodyModel string
}

// NutritionOptions 可选配置，零值使用默认。
type NutritionOptions struct {
	FoodModel string
	BodyModel string
	Retry     RetryPolicy
	Invoker   *Invoker
	Cache     *ResultCache[FoodAnalysis]
}

// NewNutritionService 创建营养分析服务。
func NewNutritionService(quota QuotaConsumer, tiers TierResolver, inference InferenceClient, opts NutritionOptions) *NutritionService {
	svc := &NutritionService{
		quota:     quota,
		tiers:     tiers,
		inference: inference,
		invoker:   opts.Invoker,
		policy:    opts.Retry,
		cache:     opts.Cache,
		foodModel: strings.TrimSpace(opts.FoodModel),
		bodyModel: strings.TrimSpace(opts.BodyModel),
	}
	if svc.invoker == nil {
		svc.invoker = NewInvoker()
	}
	if svc.policy == (RetryPolicy{}) {
		svc.policy = DefaultRetryPolicy
	}
	if svc.cache == nil {
		svc.cache = NewResultCache[FoodAnalysis](DefaultResultCacheTTL)
	}
	if svc.foodModel == "" {
		svc.foodModel = "gemini-3-flash-preview"
	}
	if svc.bodyModel == "" {
		svc.bodyModel = "gemini-3-pro-preview"
	}
	return svc
}

// AnalyzeFoodText 根据文字描述估算营养。
func (s *NutritionService) AnalyzeFoodText(ctx context.Context, userID, description string) (FoodResult, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return FoodResult{}, ErrFoodDescriptionRequired
	}
	req := InferenceRequest{
		Model:  s.foodModel,
		Prompt: fmt.Sprintf("Analyze: %q. Provide calories, protein, carbs, fats. JSON format.", description),
		Schema: foodSchema,
	}
	return s.analyzeFood(ctx, userID, description, req)
}

// AnalyzeFoodImage 压缩图片后估算营养，缓存 key 取压缩结果的前缀。
func (s *NutritionService) AnalyzeFoodImage(ctx context.Context, userID string, raw []byte) (FoodResult, error) {
	encoded, err := PrepareImage(raw)
	if err != nil {
		return FoodResult{}, err
	}
	req := InferenceRequest{
		Model:       s.foodModel,
		Prompt:      "Analyze this food image. Provide food name and facts: calories, protein (g), carbs (g), fats (g). JSON format.",
		ImageBase64: encoded,
		ImageMIME:   "image/jpeg",
		Schema:      foodSchema,
	}
	return s.analyzeFood(ctx, userID, encoded, req)
}

func (s *NutritionService) analyzeFood(ctx context.Context, userID, cacheInput string, req InferenceRequest) (FoodResult, error) {
	if cached, ok := s.cache.Lookup(cacheInput); ok {
		return FoodResult{FoodAnalysis: cached, Cached: true}, nil
	}

	decision, err := s.consume(ctx, userID, ResourceAIInference)
	if err != nil {
		return FoodResult{Quota: decision}, err
	}

	analysis, err := Invoke(ctx, s.invoker, s.policy, func(ctx context.Context) (FoodAnalysis, error) {
		var out FoodAnalysis
		if err := s.generateJSON(ctx, req, &out); err != nil {
			return FoodAnalysis{}, err
		}
		return out, nil
	})
	if err != nil {
		return FoodResult{Quota: decision}, err
	}

	s.cache.Store(cacheInput, analysis)
	return FoodResult{FoodAnalysis: analysis, Quota: decision}, nil
}

// AnalyzeBodyComposition 体态扫描，消耗 body_scan 配额，结果不缓存。
func (s *NutritionService) AnalyzeBodyComposition(ctx context.Context, userID string, raw []byte, weightKg, heightCm float64) (BodyResult, error) {
	if weightKg <= 0 || heightCm <= 0 {
		return BodyResult{}, errors.New("weight and height must be positive")
	}
	encoded, err := PrepareImage(raw)
	if err != nil {
		return BodyResult{}, err
	}

	decision, err := s.consume(ctx, userID, ResourceBodyScan)
	if err != nil {
		return BodyResult{Quota: decision}, err
	}

	req := InferenceRequest{
		Model:       s.bodyModel,
		Prompt:      fmt.Sprintf("Body analysis: Height %gcm, Weight %gkg. Suggest calories, protein, carbs, fats goals. JSON format.", heightCm, weightKg),
		ImageBase64: encoded,
		ImageMIME:   "image/jpeg",
		Schema:      bodySchema,
	}
	analysis, err := Invoke(ctx, s.invoker, s.policy, func(ctx context.Context) (BodyAnalysis, error) {
		var out BodyAnalysis
		if err := s.generateJSON(ctx, req, &out); err != nil {
			return BodyAnalysis{}, err
		}
		return out, nil
	})
	if err != nil {
		return BodyResult{Quota: decision}, err
	}
	return BodyResult{BodyAnalysis: analysis, Quota: decision}, nil
}

func (s *NutritionService) consume(ctx context.Context, userID string, resource QuotaResource) (QuotaDecision, error) {
	tier, err := s.tiers.Tier(ctx, userID)
	if err != nil {
		return QuotaDecision{}, err
	}
	decision, err := s.quota.CheckAndConsume(ctx, userID, resource, tier)
	if err != nil {
		return QuotaDecision{}, err
	}
	return decision, decision.Err()
}

func (s *NutritionService) generateJSON(ctx context.Context, req InferenceRequest, out interface{}) error {
	if s.inference == nil {
		return &InferenceError{Err: ErrAIAPIKeyMissing}
	}
	text, err := s.inference.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripJSONFence(text)), out); err != nil {
		return &InferenceError{Err: fmt.Errorf("decode inference result: %w", err)}
	}
	return nil
}

// stripJSONFence 去掉模型偶尔包裹的 ```json 代码块。
func stripJSONFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
