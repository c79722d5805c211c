package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockProvider implements Provider via the Bedrock Converse API, used
// as the fallback provider when the primary provider fails.
type BedrockProvider struct {
	client *bedrockruntime.Client
	modelID string
}

func NewBedrockProvider(client *bedrockruntime.Client, modelID string) *BedrockProvider {
	return &BedrockProvider{client: client, modelID: modelID}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) converse(ctx context.Context, system, prompt string) (string, error) {
	out, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.modelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: prompt},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	output, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock converse: unexpected output shape")
	}
	var text string
	for _, block := range output.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}

func (p *BedrockProvider) Summarize(ctx context.Context, instruction string, inputs map[string]any) (string, error) {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	return p.converse(ctx, "Summarize the given inputs per the instruction.", fmt.Sprintf("%s\n\nInputs:\n%s", instruction, string(inputsJSON)))
}

func (p *BedrockProvider) Plan(ctx context.Context, userText string, catalog map[string]any) (json.RawMessage, error) {
	catalogJSON, err := json.Marshal(catalog)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("User request: %s\n\nAvailable catalog:\n%s", userText, string(catalogJSON))
	text, err := p.converse(ctx, planSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("bedrock plan: no well-formed JSON object in response")
	}
	return raw, nil
}

func (p *BedrockProvider) ChooseNextAction(ctx context.Context, actx ActionContext) (NextAction, error) {
	var transcript string
	for _, h := range actx.History {
		transcript += h.Role + ": " + h.Content + "\n"
	}
	prompt := fmt.Sprintf("User request: %s\nAvailable tools: %v\nHistory:\n%s", actx.UserText, actx.ConnectedTools, transcript)
	text, err := p.converse(ctx, actionSystemPrompt, prompt)
	if err != nil {
		return NextAction{}, err
	}
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return NextAction{}, fmt.Errorf("bedrock choose_next_action: no well-formed JSON object in response")
	}
	var action NextAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return NextAction{}, err
	}
	return action, nil
}
