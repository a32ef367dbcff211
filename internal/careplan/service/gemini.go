package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ronitlabs/talktime/internal/config"
	"go.uber.org/zap"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

const carePlanPrompt = `You are Ronit, an expert AI coach and care plan specialist. Analyze the following coaching conversation transcript and create a comprehensive, personalized care plan.

IMPORTANT: Return the care plan in MARKDOWN format with the following structure:

# Personalized Care Plan

## Key Insights
[Summarize the main insights and patterns from the conversation]

## Personalized Recommendations
[Provide specific, actionable recommendations based on the conversation]

## Action Steps
[List clear, actionable next steps with priorities]

## Resources & Strategies
[Suggest relevant resources, tools, or strategies tailored to the individual]

## Follow-up Notes
[Any additional notes or reminders]

Make the care plan professional, actionable, personalized, encouraging, and easy to follow.

CONVERSATION TRANSCRIPT:
`

// GeminiClient generates care plans from session transcripts. Generation
// never fails the pipeline: when the model is unreachable or unconfigured
// a templated fallback plan is returned instead.
type GeminiClient struct {
	log     *zap.Logger
	cfg     config.Config
	client  *http.Client
	baseURL string
}

func NewGemini(cfg config.Config, log *zap.Logger) *GeminiClient {
	return &GeminiClient{
		log:     log.Named("careplan.gemini"),
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultGeminiURL,
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiClient) Generate(ctx context.Context, transcript string) string {
	if g.cfg.GeminiAPIKey == "" {
		g.log.Warn("gemini not configured, returning fallback care plan")
		return fallbackPlan(transcript)
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: carePlanPrompt + transcript}},
		}},
	})
	if err != nil {
		return fallbackPlan(transcript)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.cfg.GeminiModel, g.cfg.GeminiAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fallbackPlan(transcript)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("gemini request failed", zap.Error(err))
		return fallbackPlan(transcript)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.log.Error("gemini rejected request", zap.Int("status", resp.StatusCode))
		return fallbackPlan(transcript)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fallbackPlan(transcript)
	}
	if len(parsed.Candidates) > 0 && len(parsed.Candidates[0].Content.Parts) > 0 {
		if text := parsed.Candidates[0].Content.Parts[0].Text; text != "" {
			g.log.Info("care plan generated")
			return text
		}
	}

	g.log.Warn("gemini returned empty response")
	return fallbackPlan(transcript)
}

func fallbackPlan(transcript string) string {
	excerpt := transcript
	if len(excerpt) > 500 {
		excerpt = excerpt[:500]
	}
	return fmt.Sprintf(`# Personalized Care Plan

## Overview
Based on our conversation, here are your personalized recommendations and action steps.

## Key Insights
%s...

## Next Steps
1. Review the insights from our conversation
2. Implement the recommended actions
3. Track your progress regularly
`, excerpt)
}
