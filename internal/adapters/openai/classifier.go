package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Classifier is an implementation of the BatchClassifier interface using OpenAI
type Classifier struct {
	client       *openai.Client
	modelName    string
	maxTokens    int
	temperature  float32
	topP         float32
	logger       *zap.Logger
	promptFormat string
}

// batchItem is one email as presented to the model
type batchItem struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
}

// batchPrediction is one classification in the model's response
type batchPrediction struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// NewClassifier creates a new OpenAI batch classifier
func NewClassifier(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *Classifier {
	client := openai.NewClient(apiKey)

	return &Classifier{
		client:      client,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
		promptFormat: `You are an email triage system. Classify each of the following emails
into exactly one of these categories:
%s

Emails (JSON array):
%s

Respond with a JSON array containing one object per email:
- id: string (the email id, unchanged)
- category: string (one of the categories above)

Respond only with the JSON array and nothing else.`,
	}
}

// ClassifyBatch classifies a batch of emails in a single completion request
func (c *Classifier) ClassifyBatch(ctx context.Context, emails []*core.Email) ([]core.Prediction, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	prompt, err := c.buildPrompt(emails)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email triage system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	predictions, err := parsePredictions(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Classified batch with OpenAI",
		zap.Int("emails", len(emails)),
		zap.Int("predictions", len(predictions)),
		zap.String("completion_id", resp.ID))

	return predictions, nil
}

func (c *Classifier) buildPrompt(emails []*core.Email) (string, error) {
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
		return "", fmt.Errorf("failed to encode email batch: %w", err)
	}
	return fmt.Sprintf(c.promptFormat, labelList(), string(encoded)), nil
}

// labelList renders the taxonomy as a bulleted prompt section
func labelList() string {
	var b strings.Builder
	for _, label := range core.AssignableLabels() {
		fmt.Fprintf(&b, "- %s: %s\n", label.Name, label.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parsePredictions decodes the model output, tolerating surrounding prose
// and markdown fences
func parsePredictions(responseText string) ([]core.Prediction, error) {
	var raw []batchPrediction
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		// Try to extract the JSON array from the text response
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
		jsonStr := responseText[jsonStart:jsonEnd]
		if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
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
