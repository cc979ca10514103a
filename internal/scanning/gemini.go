package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiTimeout = 30 * time.Second

// Gemini implements the Gateway interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini gateway. A zero timeout uses 30 seconds.
func NewGemini(ctx context.Context, apiKey, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = defaultGeminiTimeout
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: timeout,
	}, nil
}

// Infer extracts expense fields from free text
func (g *Gemini) Infer(ctx context.Context, text string) (*InferredFields, error) {
	out, err := g.generate(ctx, genai.Text(buildExtractionPrompt(text)))
	if err != nil {
		return nil, err
	}

	fields, err := parseInferredJSON(out)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrInference, err)
	}
	return fields, nil
}

// ExtractText transcribes a receipt image or PDF
func (g *Gemini) ExtractText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	pngData, err := toPNG(imageData, contentType)
	if err != nil {
		return "", err
	}

	// genai.ImageData wants the format suffix, not the MIME type
	out, err := g.generate(ctx, genai.ImageData("png", pngData), genai.Text(ocrPrompt))
	if err != nil {
		return "", err
	}
	return stripCodeFence(out), nil
}

func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(callCtx, parts...)
	if err != nil {
		return "", classify(ctx, callCtx, fmt.Errorf("generating content: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no response from gemini", ErrInference)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
