package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

var visualizationSuggestions = []string{
	"Timeline of major developments",
	"Comparison table of competing technologies/approaches",
	"Hierarchical breakdown of components/elements",
	"Impact assessment matrix across different industries",
	"Statistical charts showing adoption rates or performance metrics",
}

const (
	structuralGuidance = "Analyze the research content and determine the most logical and effective structure for the report. " +
		"Create sections that naturally emerge from the content rather than following a predefined template. " +
		"Ensure comprehensive coverage of all subtopics while maintaining a coherent narrative flow."
	depthRequirements = "Create an in-depth, comprehensive, and authoritative report with extensive detail in each section. " +
		"Minimum expected length is equivalent to 8-10 pages of comprehensive analysis (approximately 4000-5000 words)."
)

// ResearchInput is the structured payload handed to the drafting capability.
type ResearchInput struct {
	Objective                      string    `json:"objective"`
	AggregatedSummaries            Summaries `json:"aggregated_summaries"`
	SuccessCriteria                []string  `json:"success_criteria"`
	Subtopics                      []string  `json:"subtopics"`
	DataVisualizationOpportunities []string  `json:"data_visualization_opportunities"`
	StructuralGuidance             string    `json:"structural_guidance"`
	DepthRequirements              string    `json:"depth_requirements"`
	// PreviousReport carries the current draft into a redraft that follows a
	// gather-more-data round, so new evidence extends rather than replaces it.
	PreviousReport string `json:"previous_report,omitempty"`
}

// BuildResearchInput merges the plan and summaries into a drafting payload.
func BuildResearchInput(plan ResearchPlan, summaries Summaries, previousReport string) ResearchInput {
	if summaries == nil {
		summaries = Summaries{}
	}
	criteria := plan.SuccessCriteria
	if criteria == nil {
		criteria = []string{}
	}
	return ResearchInput{
		Objective:                      plan.Objective,
		AggregatedSummaries:            summaries,
		SuccessCriteria:                criteria,
		Subtopics:                      plan.Subtopics(),
		DataVisualizationOpportunities: append([]string(nil), visualizationSuggestions...),
		StructuralGuidance:             structuralGuidance,
		DepthRequirements:              depthRequirements,
		PreviousReport:                 previousReport,
	}
}

func planningPrompt(query string) string {
	return "Create a detailed research plan based on the following user query:\n\n" +
		query + "\n\n" +
		"The research plan should include specific subtopics, search queries, " +
		"and success criteria to ensure comprehensive coverage of the topic."
}

// SearchPrompt is the user prompt for one search request.
func SearchPrompt(req SearchRequest) string {
	return fmt.Sprintf("Research the following query: %s\n"+
		"This is related to subtopic: %s\n"+
		"Please provide the information and cite your sources using the available tools.",
		req.Query, req.Subtopic)
}

func summaryPrompt(subtopic, content string) string {
	return fmt.Sprintf("Summarize the following information related to the subtopic '%s':\n\n%s", subtopic, content)
}

func draftPrompt(in ResearchInput) (string, error) {
	payload, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal research input: %w", err)
	}
	return "Create an exceptionally comprehensive, **paragraph-focused** and detailed research report " +
		"using the following content. **Minimize bullet points** and ensure the final text resembles " +
		"a cohesive, academic-style paper:\n\n" +
		string(payload) + "\n\n" +
		"As a final reminder, don't forget to include the citation list at the end of the report.", nil
}

// revisionPrompt embeds the current body and the reviewer's feedback. A nil
// verdict means the review was unreadable; only a generic request remains.
func revisionPrompt(current string, v *ReviewVerdict) string {
	var b strings.Builder
	b.WriteString("Here is the current research report:\n\n")
	b.WriteString("```\n" + current + "\n```\n\n")
	b.WriteString("Peer review feedback:\n")
	if v != nil {
		if v.OverallFeedback != "" {
			b.WriteString("Overall: " + v.OverallFeedback + "\n")
		}
		if len(v.SuggestedImprovements) > 0 {
			b.WriteString("Suggested improvements:\n")
			for _, s := range v.SuggestedImprovements {
				b.WriteString("  - " + s + "\n")
			}
		}
		if v.NextActionDetails != "" {
			b.WriteString("\nSpecific details to address: " + v.NextActionDetails + "\n")
		}
	} else {
		b.WriteString("Overall: The previous review could not be read. Improve clarity, completeness and evidence quality.\n")
	}
	b.WriteString("\nPlease revise the research report based on the feedback provided.")
	return b.String()
}

func reviewPrompt(plan ResearchPlan, report string) string {
	var b strings.Builder
	b.WriteString("Please review the following research report against the original research objectives.\n\n")
	b.WriteString("**Research Objective:**\n" + plan.Objective + "\n\n")
	b.WriteString("**Success Criteria:**\n")
	for _, c := range plan.SuccessCriteria {
		b.WriteString("  • " + c + "\n")
	}
	b.WriteString("\n**Research Report to Review:**\n")
	b.WriteString("```\n" + report + "\n```\n\n")
	b.WriteString("Evaluate the report on completeness, clarity, evidence quality, and analysis depth. " +
		"Provide your feedback in the required structured format.")
	return b.String()
}

// collectContent joins non-empty responses of a bundle and gathers the unique
// (title, url) pairs where both are present, in first-seen order.
func collectContent(b SubtopicSearchBundle) (string, []Citation) {
	var parts []string
	seen := make(map[Citation]bool)
	citations := []Citation{}
	for _, q := range b.Queries {
		if q.Response != "" {
			parts = append(parts, q.Response)
		}
		for _, c := range q.Citations {
			if c.Title == "" || c.URL == "" || seen[c] {
				continue
			}
			seen[c] = true
			citations = append(citations, c)
		}
	}
	return strings.Join(parts, contentSeparator), citations
}

const contentSeparator = "\n\n---\n\n"

// NoContentSummary is the sentinel summary for a bundle with no usable text.
const NoContentSummary = "No content found."
