package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a senior financial analyst. You read financial documents such as earnings reports, 10-K and 10-Q filings and answer questions about them.
Only use figures that appear in the document. When a figure is missing, say so instead of estimating it.
Do not give personalised investment advice.`

const analysisTemplate = `Analyze the financial document below to answer: "%s"

Focus on:
1. Revenue figures and growth trends
2. Profitability metrics (margins, net income)
3. Cash flow and liquidity position
4. Key financial ratios
5. Material risks mentioned in the document

Provide specific numbers from the document.

Format the answer as:
# Financial Analysis Summary
## Revenue Performance
## Profitability
## Financial Position
## Risks
## Key Insights
(2-3 bullet points of main findings)

--- DOCUMENT START ---
%s
--- DOCUMENT END ---`

// BuildPrompt renders the user prompt, cutting the document to maxChars runes.
func BuildPrompt(documentText, query string, maxChars int) string {
	return fmt.Sprintf(analysisTemplate, strings.TrimSpace(query), TruncateDocument(documentText, maxChars))
}

// TruncateDocument keeps the first maxChars runes and marks the cut.
func TruncateDocument(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "\n[... document truncated ...]"
}
