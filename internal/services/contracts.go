package services

import (
	"context"
	"errors"
)

// TextExtractor turns a staged document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, storageKey string) (string, error)
}

// Analyzer runs the LLM analysis over extracted text.
type Analyzer interface {
	Analyze(ctx context.Context, documentText, query string) (string, error)
}

// FallbackRequest carries whatever is known when the analysis could not finish.
type FallbackRequest struct {
	Filename      string
	Query         string
	Cause         string
	PartialOutput string
	DocumentText  string
}

// FallbackSynthesizer builds a degraded result. It must not call the Analyzer.
// An empty string means no fallback could be produced.
type FallbackSynthesizer interface {
	Synthesize(ctx context.Context, req FallbackRequest) (string, error)
}

type ExtractorFunc func(ctx context.Context, storageKey string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, storageKey string) (string, error) {
	return f(ctx, storageKey)
}

type AnalyzerFunc func(ctx context.Context, documentText, query string) (string, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, documentText, query string) (string, error) {
	return f(ctx, documentText, query)
}

type SynthesizerFunc func(ctx context.Context, req FallbackRequest) (string, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, req FallbackRequest) (string, error) {
	return f(ctx, req)
}

var errNoFallback = errors.New("fallback synthesizer produced no text")
