package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/llm"
	"github.com/joho/godotenv"
)

const sampleStatement = `ACME Corp Quarterly Report Q3
Revenue: $12,400,000
Operating expenses: $9,100,000
Net income: $2,300,000
Cash and equivalents: $4,800,000`

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to build LLM provider: %v", err)
	}
	fmt.Printf("Testing %s provider (model %s)...\n", provider.Name(), provider.Model())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Analysis.Timeout)
	defer cancel()

	fmt.Println("1. Testing health check...")
	if err := provider.CheckHealth(ctx); err != nil {
		log.Printf("Health check failed: %v", err)
	} else {
		fmt.Println("✅ Health check passed")
	}

	if lister, ok := provider.(interface {
		AvailableModels(context.Context) ([]string, error)
	}); ok {
		fmt.Println("2. Testing available models...")
		models, err := lister.AvailableModels(ctx)
		if err != nil {
			log.Printf("Failed to get models: %v", err)
		} else {
			fmt.Printf("✅ Available models: %v\n", models)
		}
	}

	fmt.Println("3. Testing sample analysis...")
	start := time.Now()
	text, err := provider.Analyze(ctx, sampleStatement, cfg.Analysis.DefaultQuery)
	elapsed := time.Since(start)
	if err != nil {
		log.Printf("Analysis failed after %v: %v", elapsed, err)
		return
	}
	fmt.Printf("✅ Analysis successful in %v (%d chars):\n%s\n", elapsed, len(text), text)
}
