// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// DefaultLLMModel is used when no model is configured.
const DefaultLLMModel = "gpt-4o-mini"

// ChatCompleter is the slice of the OpenAI client the classifier uses.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMClassifier asks a chat model to classify the message.
//
// # Description
//
// The model sees the tool catalog and returns a JSON verdict. Any failure
// (transport error, no choices, bad JSON, a tool the catalog does not know)
// falls back to the wrapped classifier, so routing never fails because of
// the model.
//
// # Thread Safety
//
// Safe for concurrent use if the ChatCompleter is.
type LLMClassifier struct {
	client   ChatCompleter
	model    string
	catalog  Catalog
	fallback Classifier
}

// NewLLMClassifier wraps client. A nil fallback uses the default rules.
func NewLLMClassifier(client ChatCompleter, model string, catalog Catalog, fallback Classifier) *LLMClassifier {
	if client == nil {
		panic("routing.NewLLMClassifier: client must not be nil")
	}
	if catalog == nil {
		panic("routing.NewLLMClassifier: catalog must not be nil")
	}
	if model == "" {
		model = DefaultLLMModel
	}
	if fallback == nil {
		fallback = NewRuleClassifier(nil)
	}
	return &LLMClassifier{client: client, model: model, catalog: catalog, fallback: fallback}
}

// NewOpenAIClassifier builds an LLMClassifier on the public OpenAI API.
// The key is sealed in a memguard enclave and only opened per request.
func NewOpenAIClassifier(apiKey, model string, catalog Catalog) (*LLMClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the llm classifier")
	}
	return NewLLMClassifier(newSealedOpenAIClient([]byte(apiKey), ""), model, catalog, nil), nil
}

type llmVerdict struct {
	Intent     string         `json:"intent"`
	Tool       string         `json:"tool"`
	Confidence float64        `json:"confidence"`
	Arguments  map[string]any `json:"arguments"`
	Target     string         `json:"target"`
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, message string, acc datatypes.AccumulatedContext) (Classification, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Classification{}, ctx.Err()
		}
		slog.Warn("LLM classification failed, using rules", "model", c.model, "error", err)
		return c.fallback.Classify(ctx, message, acc)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM returned no choices, using rules", "model", c.model)
		return c.fallback.Classify(ctx, message, acc)
	}

	cls, err := c.parse(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("Unusable LLM verdict, using rules", "model", c.model, "error", err)
		return c.fallback.Classify(ctx, message, acc)
	}
	slog.Debug("LLM classification", "tool", cls.Tool, "intent", cls.Intent, "confidence", cls.Confidence)
	return cls, nil
}

func (c *LLMClassifier) parse(content string) (Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v llmVerdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Classification{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Classification{}, fmt.Errorf("confidence %v out of range", v.Confidence)
	}

	intent := datatypes.Intent(strings.ToLower(v.Intent))
	if intent.IsSpecial() {
		return Classification{Intent: intent, Confidence: v.Confidence, Source: "llm"}, nil
	}
	if _, ok := c.catalog.Spec(v.Tool); !ok {
		return Classification{}, fmt.Errorf("unknown tool %q", v.Tool)
	}
	for k := range v.Arguments {
		if strings.HasPrefix(k, "_") {
			delete(v.Arguments, k)
		}
	}
	return Classification{
		Tool:       v.Tool,
		Confidence: v.Confidence,
		Args:       v.Arguments,
		Target:     v.Target,
		Source:     "llm",
	}, nil
}

func (c *LLMClassifier) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You route messages for a financial advisor's workspace of clients, tasks and opportunities.\n")
	b.WriteString("Reply with one JSON object: {\"intent\": string, \"tool\": string, \"confidence\": number 0-1, ")
	b.WriteString("\"arguments\": object, \"target\": string}.\n")
	b.WriteString("Use intent \"confirm\", \"cancel\" or \"undo\" with an empty tool for those replies. ")
	b.WriteString("Otherwise pick exactly one tool below. Put the name of the entity the user refers to in target, ")
	b.WriteString("never an id you have not been given. Dates are YYYY-MM-DD.\n\nTools:\n")
	for _, spec := range c.catalog.Specs() {
		fmt.Fprintf(&b, "- %s: %s", spec.Name, spec.Description)
		var params []string
		for _, p := range spec.Params {
			if p.Entity != "" {
				continue
			}
			desc := p.Name + " (" + string(p.Type)
			if len(p.Enum) > 0 {
				desc += ": " + strings.Join(p.Enum, "|")
			}
			params = append(params, desc+")")
		}
		if len(params) > 0 {
			b.WriteString(" Arguments: " + strings.Join(params, ", ") + ".")
		}
		b.WriteString("\n")
	}
	return b.String()
}

var _ Classifier = (*LLMClassifier)(nil)
