package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const planSystemPrompt = `You plan multi-service SaaS workflows. Given a user request and the ` +
	`available tool catalog, respond with a single JSON object only: ` +
	`{"target_services":[...],"selected_tools":[...],"tasks":[...]}.`

const actionSystemPrompt = `You are driving an autonomous tool-use loop. Respond with a single ` +
	`JSON object: {"kind":"tool_call","tool_call":{"tool_name":"...","payload":{}}} or ` +
	`{"kind":"final","final_text":"..."}.`

// AnthropicProvider implements Provider on top of the Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider builds a provider from an API key and model id.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error) {
	catalogJSON, err := json.Marshal(catalog)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("User request: %s\n\nAvailable catalog:\n%s", userText, string(catalogJSON))

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: planSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := ExtractJSONObject(messageText(msg))
	if !ok {
		return nil, fmt.Errorf("anthropic plan: no well-formed JSON object in response")
	}
	return raw, nil
}

func (p *AnthropicProvider) ChooseNextAction(ctx context.Context, actx ActionContext) (NextAction, error) {
	var transcript string
	for _, h := range actx.History {
		transcript += h.Role + ": " + h.Content + "\n"
	}
	prompt := fmt.Sprintf("User request: %s\nAvailable tools: %v\nHistory:\n%s", actx.UserText, actx.ConnectedTools, transcript)

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: actionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return NextAction{}, err
	}
	raw, ok := ExtractJSONObject(messageText(msg))
	if !ok {
		return NextAction{}, fmt.Errorf("anthropic choose_next_action: no well-formed JSON object in response")
	}
	var action NextAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return NextAction{}, err
	}
	return action, nil
}

func (p *AnthropicProvider) Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error) {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("%s\n\nInputs:\n%s", instruction, string(inputsJSON))

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	return messageText(msg), nil
}

func messageText(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
