// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/datatypes"
)

// OpenAIProvider implements Embedder and ChatModel against any
// OpenAI-compatible endpoint (OpenAI, vLLM, Ollama, LocalAI).
type OpenAIProvider struct {
	client         *openai.Client
	embeddingModel string
	chatModel      string
	dimension      int
	embedTimeout   time.Duration
	chatTimeout    time.Duration
	retry          RetryPolicy
}

// NewOpenAIProvider builds a provider from config. BaseURL must be set;
// factories guard against empty config before calling this.
func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		dimension:      cfg.EmbeddingDim,
		embedTimeout:   cfg.EmbedTimeout,
		chatTimeout:    cfg.ChatTimeout,
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}
}

// Dimension reports the configured embedding width.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Embed requests embeddings for all texts in one batch call.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.embedTimeout)
		defer cancel()

		resp, err := p.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(p.embeddingModel),
			Input:      texts,
			Dimensions: p.dimension,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}

		vectors = make([][]float32, len(resp.Data))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return fmt.Errorf("embedding index %d out of range", item.Index)
			}
			vectors[item.Index] = item.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, datatypes.EmbeddingFailed(err)
	}
	return vectors, nil
}

// Complete runs a single-turn chat completion and returns the assistant text.
func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, params config.GenerationParams) (string, error) {
	var out string
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.chatTimeout)
		defer cancel()

		messages := make([]openai.ChatCompletionMessage, 0, 2)
		if systemPrompt != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userPrompt,
		})

		resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       p.chatModel,
			Messages:    messages,
			Temperature: params.Temperature,
			TopP:        params.TopP,
			MaxTokens:   params.MaxTokens,
			Stop:        params.Stop,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}
		out = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", datatypes.Internal(fmt.Errorf("chat completion: %w", err))
	}
	return out, nil
}

var (
	_ Embedder  = (*OpenAIProvider)(nil)
	_ ChatModel = (*OpenAIProvider)(nil)
)
