package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateSynthesizerReport(t *testing.T) {
	doc := "Acme Holdings Inc\nQuarterly Report Q3\nRevenue of $12.5 million, net income $3 million.\nCash and equivalents $900,000. Total debt $2 billion."
	out, err := NewTemplateSynthesizer().Synthesize(context.Background(), FallbackRequest{
		Filename:     "acme-q3.pdf",
		Query:        "Summarize revenue",
		Cause:        "timeout: analysis did not finish",
		DocumentText: doc,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "acme-q3.pdf")
	assert.Contains(t, out, "Summarize revenue")
	assert.Contains(t, out, "**Company:** Acme Holdings Inc")
	assert.Contains(t, out, "**Document Type:** Quarterly Report")
	assert.Contains(t, out, "**Currency Figures Found:** 4")
	assert.Contains(t, out, "Revenue/Sales Information: yes")
	assert.Contains(t, out, "Debt Information: yes")
	assert.Contains(t, out, "Multiple financial figures")
	assert.NotContains(t, out, "timeout")
}

func TestTemplateSynthesizerDocumentTypes(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"FORM 10-K annual filing", "Annual Report (10-K)"},
		{"form 10-q", "Quarterly Report (10-Q)"},
		{"results for q2", "Quarterly Report"},
		{"Annual summary", "Annual Report"},
		{"balance sheet", "Financial Report"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectDocumentType(tt.text), tt.text)
	}
}

func TestTemplateSynthesizerPartialOutputAndPreview(t *testing.T) {
	long := strings.Repeat("x", 2000)
	out, err := NewTemplateSynthesizer().Synthesize(context.Background(), FallbackRequest{
		Query:         "q",
		PartialOutput: "Revenue increased",
		DocumentText:  long,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "## Partial Analysis\nRevenue increased")
	assert.Contains(t, out, strings.Repeat("x", 500)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 501))
	assert.Contains(t, out, "Unknown Company")
}

func TestTemplateSynthesizerFilenameOnly(t *testing.T) {
	out, err := NewTemplateSynthesizer().Synthesize(context.Background(), FallbackRequest{Filename: "scan.pdf", Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, out, "scan.pdf")
	assert.Contains(t, out, "could not be read")
}

func TestTemplateSynthesizerNothingToSay(t *testing.T) {
	out, err := NewTemplateSynthesizer().Synthesize(context.Background(), FallbackRequest{Cause: "boom"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTemplateSynthesizerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTemplateSynthesizer().Synthesize(ctx, FallbackRequest{Filename: "a.pdf"})
	assert.ErrorIs(t, err, context.Canceled)
}
