package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pbaille/grundsalg/internal/domain"
)

const (
	classifyMaxTokens = 512
	extractMaxTokens  = 1024
)

// Options configures the Anthropic client
type Options struct {
	APIKey        string
	BaseURL       string
	ClassifyModel string
	ExtractModel  string
	Timeout       time.Duration
}

// Anthropic classifies and extracts page content via the Messages API.
// Classification runs on the cheap model, extraction on the expensive one.
type Anthropic struct {
	client        anthropic.Client
	classifyModel string
	extractModel  string
}

// NewAnthropic creates a new Anthropic-backed Understander
func NewAnthropic(opts Options) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key not set")
	}
	if opts.ClassifyModel == "" || opts.ExtractModel == "" {
		return nil, fmt.Errorf("classify and extract models are required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &Anthropic{
		client:        anthropic.NewClient(reqOpts...),
		classifyModel: opts.ClassifyModel,
		extractModel:  opts.ExtractModel,
	}, nil
}

// Classify asks the cheap model whether the page is about a property sale
func (a *Anthropic) Classify(ctx context.Context, url, text string) (domain.ClassificationResult, error) {
	resp, err := a.callAPI(ctx, a.classifyModel, classifySystem, buildClassifyPrompt(url, text), classifyMaxTokens)
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("api call: %w", err)
	}
	return parseClassification(resp)
}

// Extract asks the expensive model for structured listing details
func (a *Anthropic) Extract(ctx context.Context, url, text string) (domain.ExtractionResult, error) {
	resp, err := a.callAPI(ctx, a.extractModel, extractSystem, buildExtractPrompt(url, text), extractMaxTokens)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("api call: %w", err)
	}
	return parseExtraction(resp)
}

func (a *Anthropic) callAPI(ctx context.Context, model, system, prompt string, maxTokens int64) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response")
	}
	return sb.String(), nil
}
