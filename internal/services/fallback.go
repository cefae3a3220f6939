package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const (
	fallbackExcerptRunes = 500
	fallbackPartialRunes = 4000
)

var (
	moneyRe   = regexp.MustCompile(`\$[\d,.]+\s?(?:[mb]illion|[mb])\b|\$[\d,]+`)
	quarterRe = regexp.MustCompile(`\bq[1-4]\b`)
)

// TemplateSynthesizer builds a basic report from keyword heuristics over the
// document text. It never calls the analyzer.
type TemplateSynthesizer struct{}

func NewTemplateSynthesizer() *TemplateSynthesizer {
	return &TemplateSynthesizer{}
}

func (TemplateSynthesizer) Synthesize(ctx context.Context, req FallbackRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(req.DocumentText)
	partial := strings.TrimSpace(req.PartialOutput)
	if text == "" && partial == "" && strings.TrimSpace(req.Filename) == "" && strings.TrimSpace(req.Query) == "" {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("# Financial Document Analysis - Basic Report\n\n")

	b.WriteString("## Document Overview\n")
	if req.Filename != "" {
		fmt.Fprintf(&b, "- **File:** %s\n", req.Filename)
	}
	if text != "" {
		fmt.Fprintf(&b, "- **Company:** %s\n", detectCompany(text))
		fmt.Fprintf(&b, "- **Document Type:** %s\n", detectDocumentType(text))
	}
	if req.Query != "" {
		fmt.Fprintf(&b, "- **Analysis Query:** %s\n", req.Query)
	}
	b.WriteString("\n")

	if text != "" {
		lower := strings.ToLower(text)
		figures := len(moneyRe.FindAllString(lower, -1))

		b.WriteString("## Content Summary\n")
		fmt.Fprintf(&b, "- **Document Length:** %d characters\n", len([]rune(text)))
		fmt.Fprintf(&b, "- **Currency Figures Found:** %d\n", figures)
		b.WriteString("- **Key Sections Detected:**\n")
		fmt.Fprintf(&b, "  - Revenue/Sales Information: %s\n", mark(containsAny(lower, "revenue", "sales")))
		fmt.Fprintf(&b, "  - Profit/Earnings Data: %s\n", mark(containsAny(lower, "profit", "income", "earnings")))
		fmt.Fprintf(&b, "  - Cash Flow Information: %s\n", mark(containsAny(lower, "cash")))
		fmt.Fprintf(&b, "  - Debt Information: %s\n\n", mark(containsAny(lower, "debt", "borrowings", "liabilities")))

		b.WriteString("## Basic Analysis\n")
		switch {
		case figures > 2:
			b.WriteString("Multiple financial figures and metrics were found in the document.\n\n")
		case figures > 0:
			b.WriteString("Some financial information appears to be present.\n\n")
		default:
			b.WriteString("Limited financial metrics were detected in the initial scan.\n\n")
		}
	}

	if partial != "" {
		b.WriteString("## Partial Analysis\n")
		b.WriteString(truncateRunes(partial, fallbackPartialRunes))
		b.WriteString("\n\n")
	}

	if text == "" && partial == "" {
		b.WriteString("## Basic Analysis\n")
		b.WriteString("The document text could not be read, so no figures could be summarized.\n\n")
	}

	if text != "" {
		fmt.Fprintf(&b, "## Document Preview (first %d characters)\n```\n%s\n```\n\n", fallbackExcerptRunes, truncateRunes(text, fallbackExcerptRunes))
	}

	b.WriteString("For a detailed analysis, submit the document again with a specific query such as \"Focus on revenue growth\".\n")
	return b.String(), nil
}

func detectCompany(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if len(l) <= 3 || len(l) >= 50 {
			continue
		}
		if containsAny(strings.ToLower(l), "inc", "corp", "company", "ltd", "plc", "llc") {
			return l
		}
	}
	return "Unknown Company"
}

func detectDocumentType(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "10-k"):
		return "Annual Report (10-K)"
	case strings.Contains(lower, "10-q"):
		return "Quarterly Report (10-Q)"
	case strings.Contains(lower, "quarterly") || quarterRe.MatchString(lower):
		return "Quarterly Report"
	case strings.Contains(lower, "annual"):
		return "Annual Report"
	default:
		return "Financial Report"
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
