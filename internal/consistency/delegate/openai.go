package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a continuity reviewer for a fictional world.
You receive claims about entities in that world. Compare the new claims
against the existing claims and report factual conflicts between them.
Respond with JSON only, in the form
{"issues":[{"severity":"critical"|"warning","description":"...","entities_involved":["entity-id"]}]}.
Report "critical" only for direct factual contradictions. Report
"warning" for claims that strain plausibility together. Report nothing
for claims that merely concern the same topic. If there are no
conflicts respond with {"issues":[]}.`

// OpenAI checks claims through an OpenAI-compatible chat completion
// endpoint. Works against any server speaking the same API, including
// local ones.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a checker for the given endpoint. An empty baseURL
// uses the hosted API.
func NewOpenAI(baseURL, apiKey, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Check implements Checker.
func (o *OpenAI) Check(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode delegate request: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return Response{}, fmt.Errorf("delegate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("delegate returned no choices")
	}

	var out Response
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Response{}, fmt.Errorf("decode delegate response: %w", err)
	}
	for _, issue := range out.Issues {
		if issue.Severity != SeverityCritical && issue.Severity != SeverityWarning {
			return Response{}, fmt.Errorf("delegate returned unknown severity %q", issue.Severity)
		}
	}
	return out, nil
}
