// Package gemini generates agent replies with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/types"
	"google.golang.org/genai"
)

// DefaultMaxTokens caps replies when the agent config does not
const DefaultMaxTokens = 256

// ContentGenerator is the slice of the genai Models service used here
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator implements pipeline.Generator
type Generator struct {
	models       ContentGenerator
	defaultModel string
}

// NewClient creates a Gemini API client
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// New wraps the models service. defaultModel is used when the agent config
// names none.
func New(models ContentGenerator, defaultModel string) *Generator {
	return &Generator{models: models, defaultModel: defaultModel}
}

// Generate sends the bounded history plus the new utterance
func (g *Generator) Generate(ctx context.Context, req pipeline.GenerateRequest) (pipeline.Generation, error) {
	model := req.Config.Model
	if model == "" {
		model = g.defaultModel
	}
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(req.Config, req.Contact), genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
	}

	resp, err := g.models.GenerateContent(ctx, model, Contents(req.History, req.Transcript), cfg)
	if err != nil {
		return pipeline.Generation{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return pipeline.Generation{}, errors.New("gemini returned no response")
	}

	out := pipeline.Generation{ReplyText: strings.TrimSpace(resp.Text())}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// SystemPrompt builds the instruction block from the agent config
func SystemPrompt(cfg types.AgentConfig, contact *types.ContactInfo) string {
	var b strings.Builder
	if cfg.SystemPrompt != "" {
		b.WriteString(cfg.SystemPrompt)
	} else {
		b.WriteString("You are a helpful phone assistant.")
	}
	if cfg.Name != "" {
		fmt.Fprintf(&b, "\nYour name is %s.", cfg.Name)
	}
	if cfg.Language != "" {
		fmt.Fprintf(&b, "\nAlways answer in %s.", cfg.Language)
	}
	if contact != nil {
		if name := contact.DisplayName(); name != "" {
			fmt.Fprintf(&b, "\nYou are speaking with %s.", name)
		}
	}
	if cfg.BookingEnabled() {
		b.WriteString("\nYou can check calendar availability and book appointments for the caller.")
	}
	b.WriteString("\nKeep replies short; they are spoken aloud on a phone call.")
	return b.String()
}

// Contents maps history (most recent first) to chronological chat contents
// and appends the new utterance
func Contents(history []types.Turn, transcript string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)*2+1)
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Transcript != "" {
			contents = append(contents, genai.NewContentFromText(t.Transcript, genai.RoleUser))
		}
		if t.ReplyText != "" {
			contents = append(contents, genai.NewContentFromText(t.ReplyText, genai.RoleModel))
		}
	}
	return append(contents, genai.NewContentFromText(transcript, genai.RoleUser))
}
