package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider via a chat-completions-compatible
// endpoint. Used by the stepwise planner as an alternate backend
// for per-chunk task extraction, distinct from the primary/fallback chain
// used for whole-request planning.
type OpenAIProvider struct {
	client *openai.Client
	model string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) chat(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error) {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	return p.chat(ctx, "Summarize the given inputs per the instruction.", fmt.Sprintf("%s\n\nInputs:\n%s", instruction, string(inputsJSON)))
}

func (p *OpenAIProvider) Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error) {
	catalogJSON, err := json.Marshal(catalog)
	if err != nil {
		return nil, err
	}
	text, err := p.chat(ctx, planSystemPrompt, fmt.Sprintf("User request: %s\n\nAvailable catalog:\n%s", userText, string(catalogJSON)))
	if err != nil {
		return nil, err
	}
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("openai plan: no well-formed JSON object in response")
	}
	return raw, nil
}

func (p *OpenAIProvider) ChooseNextAction(ctx context.Context, actx ActionContext) (NextAction, error) {
	var transcript string
	for _, h := range actx.History {
		transcript += h.Role + ": " + h.Content + "\n"
	}
	text, err := p.chat(ctx, actionSystemPrompt, fmt.Sprintf("User request: %s\nAvailable tools: %v\nHistory:\n%s", actx.UserText, actx.ConnectedTools, transcript))
	if err != nil {
		return NextAction{}, err
	}
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return NextAction{}, fmt.Errorf("openai choose_next_action: no well-formed JSON object in response")
	}
	var action NextAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return NextAction{}, err
	}
	return action, nil
}

// StepwiseTasks requests {tasks:[...]} for one chunk of stepwise text.
func (p *OpenAIProvider) StepwiseTasks(ctx context.Context, chunk string) (StepwiseTasksResponse, error) {
	const system = `Decompose the sentence into tasks. Respond with JSON only: ` +
		`{"tasks":[{"task_id":"t1","sentence":"...","service":"...","tool_name":"..."}]}.`
	text, err := p.chat(ctx, system, chunk)
	if err != nil {
		return StepwiseTasksResponse{}, err
	}
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return StepwiseTasksResponse{}, fmt.Errorf("openai stepwise: no well-formed JSON object in response")
	}
	var out StepwiseTasksResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return StepwiseTasksResponse{}, err
	}
	return out, nil
}
