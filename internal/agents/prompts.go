package agents

import (
	"fmt"
	"strings"

	"github.com/marketscope-labs/marketscope-go/internal/search"
)

const (
	researcherSystem = "You are a market research specialist. Extract factual, specific information " +
		"from the provided search results. Cite concrete figures and dates where available. " +
		"Do not speculate beyond the sources."

	analystSystem = "You are a strategy analyst. Produce rigorous, structured analysis from the " +
		"research provided. Be specific about evidence and note uncertainty explicitly."

	writerSystem = "You are a professional business writer producing a market intelligence report. " +
		"Write clear, well-structured markdown. Preserve the analytical substance; do not invent facts."
)

const maxSnippetLen = 500

// formatResults folds a search response into LLM context: the
// provider's synthesized answer first, then each result with its
// citation fields and a bounded content snippet.
func formatResults(resp search.Response) string {
	var b strings.Builder
	if strings.TrimSpace(resp.Answer) != "" {
		b.WriteString("AI Answer: ")
		b.WriteString(strings.TrimSpace(resp.Answer))
		b.WriteString("\n\n")
	}
	for i, r := range resp.Results {
		content := strings.TrimSpace(r.Content)
		if len(content) > maxSnippetLen {
			content = content[:maxSnippetLen] + "..."
		}
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\nRelevance: %.2f\n%s\n\n", i+1, r.Title, r.URL, r.Score, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func overviewPrompt(target string, results string) string {
	return fmt.Sprintf(
		"Summarize what %s does: business model, main products and services, scale and recent developments.\n\nSearch results:\n%s",
		target, results,
	)
}

func competitorsPrompt(target string, results string) string {
	return fmt.Sprintf(
		"Identify the main competitors of %s and how they compare on market share, positioning and strengths.\n\nSearch results:\n%s",
		target, results,
	)
}

func trendsPrompt(industry string, results string) string {
	return fmt.Sprintf(
		"Summarize the current market trends in the %s industry: growth drivers, headwinds and notable shifts.\n\nSearch results:\n%s",
		industry, results,
	)
}

func swotPrompt(target string, research string) string {
	return fmt.Sprintf(
		"Produce a SWOT analysis for %s. Use four sections (Strengths, Weaknesses, Opportunities, Threats) with bullet points grounded in the research.\n\nResearch:\n%s",
		target, research,
	)
}

func matrixPrompt(target string, research string) string {
	return fmt.Sprintf(
		"Build a competitive matrix comparing %s against its main competitors across product, pricing, market share and differentiation.\n\nResearch:\n%s",
		target, research,
	)
}

func positioningPrompt(target string, research string) string {
	return fmt.Sprintf(
		"Assess the market positioning of %s: segment, value proposition and defensibility.\n\nResearch:\n%s",
		target, research,
	)
}

func recommendationsPrompt(target string, swot string) string {
	return fmt.Sprintf(
		"Based on the SWOT below, give 3 to 5 prioritized strategic recommendations for %s, each with a short rationale.\n\nSWOT:\n%s",
		target, swot,
	)
}

func summaryPrompt(target string, analysis string) string {
	return fmt.Sprintf(
		"Write an executive summary (2 to 3 paragraphs) of the market intelligence findings for %s.\n\nAnalysis:\n%s",
		target, analysis,
	)
}

func reportPrompt(target string, industry string, research string, analysis string, summary string, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the full market intelligence report for %s", target)
	if strings.TrimSpace(industry) != "" {
		fmt.Fprintf(&b, " (%s industry)", industry)
	}
	b.WriteString(" in markdown. Sections: Executive Summary, Company Overview, Competitive Landscape, ")
	b.WriteString("Market Trends, SWOT Analysis, Strategic Recommendations.\n\n")
	if strings.TrimSpace(feedback) != "" {
		fmt.Fprintf(&b, "This is a revision. Reviewer feedback to address:\n%s\n\n", feedback)
	}
	fmt.Fprintf(&b, "Executive summary draft:\n%s\n\nResearch:\n%s\n\nAnalysis:\n%s", summary, research, analysis)
	return b.String()
}
