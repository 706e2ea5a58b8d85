package model

import (
	"fmt"

	"neuroforge/internal/domain"
)

// CatalogEntry describes a base model that can be fine-tuned.
type CatalogEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Provider       string `json:"provider"`
	Parameters     string `json:"parameters"`
	RecommendedGPU string `json:"recommended_gpu"`
}

var catalog = []CatalogEntry{
	{
		ID:             "llama-3-8b",
		Name:           "Llama 3 (8B)",
		Description:    "Meta's latest open LLM. Good balance of speed and reasoning.",
		Provider:       "Meta",
		Parameters:     "8B",
		RecommendedGPU: "16GB VRAM",
	},
	{
		ID:             "mistral-7b-v0.3",
		Name:           "Mistral 7B v0.3",
		Description:    "Highly efficient 7B model, great for general purpose chat.",
		Provider:       "Mistral AI",
		Parameters:     "7B",
		RecommendedGPU: "12GB VRAM",
	},
	{
		ID:             "gemma-2b",
		Name:           "Gemma 2B",
		Description:    "Google's lightweight model. Fast and runs on consumer hardware.",
		Provider:       "Google",
		Parameters:     "2B",
		RecommendedGPU: "8GB VRAM",
	},
	{
		ID:             "phi-3-mini",
		Name:           "Phi-3 Mini",
		Description:    "Microsoft's small but mighty model. Excellent for reasoning.",
		Provider:       "Microsoft",
		Parameters:     "3.8B",
		RecommendedGPU: "8GB VRAM",
	},
}

// Catalog returns a copy of the built-in base models.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

func LookupModel(id string) (CatalogEntry, error) {
	for _, m := range catalog {
		if m.ID == id {
			return m, nil
		}
	}
	return CatalogEntry{}, fmt.Errorf("%w: %q", domain.ErrUnknownModel, id)
}
