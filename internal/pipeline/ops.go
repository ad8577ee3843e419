package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jotstack/jotstack/internal/llm"
)

// OpModel is the operation key for language model call nodes.
const OpModel = "llm"

// NewModelOperation returns the operation backing model call nodes. Node
// configuration supplies the prompt templates and generation parameters:
//
//	prompt        (required) user prompt template
//	system_prompt (optional) system prompt template
//	model         (optional) model identifier override
//	max_tokens    (optional) response token cap
//	temperature   (optional) sampling temperature
//
// Both prompt templates are rendered against the node's input data before
// the call, so upstream node outputs can be interpolated with
// {{path.to.value}} placeholders.
func NewModelOperation(caller llm.Caller) OperationFunc {
	return func(ctx context.Context, node Node, input map[string]any) (map[string]any, error) {
		prompt, ok := node.Config["prompt"].(string)
		if !ok || prompt == "" {
			return nil, fmt.Errorf("%w: node %s has no prompt", llm.ErrInvalidConfig, node.ID)
		}

		req := llm.Request{
			UserPrompt: Substitute(prompt, input),
		}
		if system, ok := node.Config["system_prompt"].(string); ok {
			req.SystemPrompt = Substitute(system, input)
		}
		if model, ok := node.Config["model"].(string); ok {
			req.Model = model
		}
		if maxTokens, ok := configInt(node.Config, "max_tokens"); ok {
			req.MaxTokens = maxTokens
		}
		if temp, ok := configFloat(node.Config, "temperature"); ok {
			req.Temperature = temp
		}

		response, err := caller.Call(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		return parseModelResponse(response), nil
	}
}

// parseModelResponse interprets a model response as a JSON object when it
// looks like one, so downstream nodes can address its fields. Anything
// else is wrapped under "text". The raw response is always preserved under
// "output", which is also what default edges read.
func parseModelResponse(response string) map[string]any {
	trimmed := strings.TrimSpace(response)

	// Models often fence JSON answers in markdown blocks.
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
			obj[DefaultOutputKey] = response
			return obj
		}
	}

	return map[string]any{
		"text":           response,
		DefaultOutputKey: response,
	}
}

// configInt reads an integer configuration value, accepting the float64
// form JSON decoding produces.
func configInt(config map[string]any, key string) (int, bool) {
	switch v := config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// configFloat reads a floating point configuration value.
func configFloat(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
