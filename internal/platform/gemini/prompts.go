package gemini

import (
	"fmt"
	"strings"
)

// buildResearchPrompt asks the model for a structured research brief on
// the investment subject.
func buildResearchPrompt(subjectName, subjectURL string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a venture capital analyst performing due diligence on %q.\n\n", subjectName)
	if subjectURL != "" {
		fmt.Fprintf(&b, "The company's website is %s.\n\n", subjectURL)
	}
	b.WriteString(`Produce a structured research brief covering:
1. Company overview and product
2. Market size and competitive landscape
3. Business model and revenue drivers
4. Team and execution track record
5. Key risks and open questions

Be specific and factual. Where information is uncertain, say so explicitly
rather than speculating.`)

	return b.String()
}

// buildReportPrompt asks the model to turn the research brief into an HTML
// investment report document.
func buildReportPrompt(subjectName, research string) string {
	return fmt.Sprintf(`Using the research brief below, write a complete investment
due diligence report for %q as a standalone HTML document.

Requirements:
- Output ONLY the HTML document, no markdown fences or commentary
- Use semantic HTML with <h1>/<h2> section headings
- Sections: Executive Summary, Company Overview, Market Analysis,
  Financial Assessment, Risk Factors, Investment Recommendation
- Keep inline styling minimal; the document is restyled downstream

Research brief:
%s`, subjectName, research)
}
