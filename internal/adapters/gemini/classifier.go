package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/mail-triage/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Classifier is an implementation of the BatchClassifier interface using
// Google Gemini
type Classifier struct {
	client       *genai.Client
	model        *genai.GenerativeModel
	modelName    string
	logger       *zap.Logger
	promptFormat string
}

type batchItem struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
}

type batchPrediction struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// NewClassifier creates a new Gemini batch classifier
func NewClassifier(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) (*Classifier, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &Classifier{
		client:    client,
		model:     model,
		modelName: modelName,
		logger:    logger,
		promptFormat: `You are an email triage system. Classify each of the following emails
into exactly one of these categories:
%s

Emails (JSON array):
%s

Respond with a JSON array containing one object per email:
- id: string (the email id, unchanged)
- category: string (one of the categories above)

Respond only with the JSON array and nothing else.`,
	}, nil
}

// Close closes the Gemini client
func (c *Classifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ClassifyBatch classifies a batch of emails in a single generation request
func (c *Classifier) ClassifyBatch(ctx context.Context, emails []*core.Email) ([]core.Prediction, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	items := make([]batchItem, 0, len(emails))
	for _, email := range emails {
		items = append(items, batchItem{
			ID:      email.ID,
			Sender:  fmt.Sprintf("%s <%s>", email.SenderName, email.SenderAddress),
			Subject: email.Subject,
		})
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email batch: %w", err)
	}
	prompt := fmt.Sprintf(c.promptFormat, labelList(), string(encoded))

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	responseText := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])

	predictions, err := parsePredictions(responseText)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Classified batch with Gemini",
		zap.Int("emails", len(emails)),
		zap.Int("predictions", len(predictions)),
		zap.String("model", c.modelName))

	return predictions, nil
}

func labelList() string {
	var b strings.Builder
	for _, label := range core.AssignableLabels() {
		fmt.Fprintf(&b, "- %s: %s\n", label.Name, label.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parsePredictions(responseText string) ([]core.Prediction, error) {
	var raw []batchPrediction
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		jsonStart := -1
		jsonEnd := -1
		for i := 0; i < len(responseText); i++ {
			if responseText[i] == '[' {
				jsonStart = i
				break
			}
		}
		for i := len(responseText) - 1; i >= 0; i-- {
			if responseText[i] == ']' {
				jsonEnd = i + 1
				break
			}
		}
		if jsonStart < 0 || jsonStart >= jsonEnd {
			return nil, fmt.Errorf("failed to extract JSON from LLM response: %w", err)
		}
		if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd]), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
		}
	}

	predictions := make([]core.Prediction, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" {
			continue
		}
		predictions = append(predictions, core.Prediction{
			ID:       p.ID,
			Category: strings.TrimSpace(p.Category),
		})
	}
	return predictions, nil
}
