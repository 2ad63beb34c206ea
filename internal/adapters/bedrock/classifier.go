package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
	"go.uber.org/zap"
)

// Classifier is an implementation of the BatchClassifier interface using
// Amazon Bedrock
type Classifier struct {
	client        *bedrockruntime.Client
	modelID       string
	maxTokens     int
	temperature   float32
	topP          float32
	maxFieldSize  int
	logger        *zap.Logger
	promptFormat  string
	textProcessor *utils.TextProcessor
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

// NewClassifier creates a new Bedrock batch classifier
func NewClassifier(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxFieldSize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Classifier {
	return &Classifier{
		client:        client,
		modelID:       modelID,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxFieldSize:  maxFieldSize,
		logger:        logger,
		textProcessor: textProcessor,
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

// ClassifyBatch classifies a batch of emails with a single model invocation
func (c *Classifier) ClassifyBatch(ctx context.Context, emails []*core.Email) ([]core.Prediction, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	items := make([]batchItem, 0, len(emails))
	for _, email := range emails {
		items = append(items, batchItem{
			ID:      email.ID,
			Sender:  c.textProcessor.SanitizeUTF8(fmt.Sprintf("%s <%s>", email.SenderName, email.SenderAddress)),
			Subject: c.textProcessor.ProcessText(email.Subject, c.maxFieldSize),
		})
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email batch: %w", err)
	}
	prompt := fmt.Sprintf(c.promptFormat, labelList(), string(encoded))

	var payload []byte

	if c.isAnthropicModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": c.maxTokens,
			"temperature":          c.temperature,
			"top_p":                c.topP,
		})
	} else if c.isAmazonTitanModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	responseText, err := c.extractText(resp.Body)
	if err != nil {
		return nil, err
	}

	predictions, err := parsePredictions(responseText)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Classified batch with Bedrock",
		zap.Int("emails", len(emails)),
		zap.Int("predictions", len(predictions)),
		zap.String("model_id", c.modelID))

	return predictions, nil
}

// extractText pulls the generated text out of the model-family specific
// response envelope
func (c *Classifier) extractText(body []byte) (string, error) {
	if c.isAnthropicModel() {
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return claudeResp.Completion, nil
	}

	if c.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
	}
	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	}
	return string(body), nil
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

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *Classifier) isAnthropicModel() bool {
	return strings.HasPrefix(c.modelID, "anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *Classifier) isAmazonTitanModel() bool {
	return strings.HasPrefix(c.modelID, "amazon.titan")
}
