package provider

import (
	"context"
	"encoding/json"
	"strings"

	genai "google.golang.org/genai"
)

// Gemini is a thin wrapper around the official genai client. It focuses on
// the API call itself; retries and logging are applied via Middleware.
type Gemini struct {
	cli          *genai.Client
	defaultModel string
}

func NewGemini(ctx context.Context, defaultModel string) (*Gemini, error) {
	// The genai client reads GEMINI_API_KEY from the environment.
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = "gemini-2.5-flash"
	}
	return &Gemini{cli: cli, defaultModel: defaultModel}, nil
}

func (g *Gemini) Name() string { return "gemini" }
func (g *Gemini) Close() error { return nil }

// Invoke asks for application/json and returns the model's JSON verbatim.
func (g *Gemini) Invoke(ctx context.Context, prompt string, params Params) (json.RawMessage, error) {
	model := params.Model
	if strings.TrimSpace(model) == "" {
		model = g.defaultModel
	}
	temp := float32(params.Temperature)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temp,
	}
	if params.Seed != 0 {
		seed := int32(params.Seed)
		cfg.Seed = &seed
	}
	resp, err := g.cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		cfg,
	)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Kind: KindConn, Err: ErrEmptyResponse}
	}
	return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
}

func classifyGeminiError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "permission"):
		return &Error{Kind: KindAuth, Err: err}
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate"):
		return &Error{Kind: KindRateLimit, Err: err}
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: KindConn, Err: err}
	}
}
