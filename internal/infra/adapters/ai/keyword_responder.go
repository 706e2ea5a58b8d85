package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
)

var _ adapter.ChatResponder = (*KeywordResponder)(nil)

// KeywordResponder answers from a fixed script. It is the orchestrator's
// behaviour when no language model is configured.
type KeywordResponder struct {
	modelPath string
	delay     time.Duration
}

func NewKeywordResponder(modelPath string, delay time.Duration) *KeywordResponder {
	return &KeywordResponder{modelPath: modelPath, delay: delay}
}

func (k *KeywordResponder) Name() string { return "keyword" }

func (k *KeywordResponder) Respond(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	if k.delay > 0 {
		t := time.NewTimer(k.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "train") || strings.Contains(msg, "finetune"):
		return "I can help you with that. Please specify the dataset path and the base model you'd like to use.", nil
	case strings.Contains(msg, "dataset"):
		return "Got it. I've located the dataset. Shall I start the training process with default parameters (LoRA, r=16)?", nil
	case strings.Contains(msg, "yes") || strings.Contains(msg, "start"):
		return "Initiating training run #482... [System: executed `trainer.py --model llama3 --data /tmp/data.json`]\n\nTraining started successfully.", nil
	}
	return fmt.Sprintf("I am running in Orchestrator Mode (Model Path: %s).\n\nI am ready to manage your training infrastructure. What would you like to do?", k.modelPath), nil
}
