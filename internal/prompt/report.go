package prompt

import (
	"fmt"
	"strings"
)

// Caps applied to page content before it reaches the prompt.
const (
	MaxTextRunes = 8000
	MaxHTMLRunes = 6000
)

// ReportInput is the page data interpolated into the analysis prompt.
type ReportInput struct {
	URL              string
	CrawlStatus      string
	DetectedLanguage string
	ContentType      string
	LastCrawled      string
	LLMVersion       string
	WordCount        int
	Title            string
	Description      string
	H1               string
	H2               []string
	CleanText        string
	HTMLExcerpt      string
}

const reportSystem = `You are an LLM-SEO evaluator. Output strict json only.

The json must have these top-level keys:
- page_metadata
- executive_summary
- llm_interpretation
- summary_block
- definitions_block
- fanout_query_analysis
- faq_block
- canonical_resources_block
- content_structure
- clarity_readability
- eeat_block
- score_matrix
- fix_roadmap
- raw_data

Required inner fields (exact keys):

page_metadata:
  url, crawl_status, detected_language, content_type, word_count, last_crawled, llm_version

executive_summary:
  overall_llm_readiness_score (int 0-100),
  verdict ("Ready" | "Partially Ready" | "Needs Work" | "Poor"),
  main_issue (string),
  top_3_fixes (array of strings)

llm_interpretation:
  primary_topic, secondary_topics (array), detected_intent,
  summary_llm_generated, key_claims_llm_detected (array), confidence_level

summary_block:
  score (0-10), found (bool), quality, problems (array), recommended_summary_block

definitions_block:
  score (0-10), found (bool),
  missing_critical_terms (array),
  quality_problems (array),
  recommended_definitions (array of {term, definition})

fanout_query_analysis:
  sub_questions_generated (array of {question, matched_content, match_quality, missing_answer_note}),
  coverage_score (0-10),
  main_gaps (array)

faq_block:
  score (0-10), found (bool),
  quality_problems (array),
  recommended_faqs (array of {q, a})

canonical_resources_block:
  score (0-10), found (bool),
  missing_resources (array),
  why_it_matters (string),
  recommended_resources (array of {title, url})

content_structure:
  score (0-10),
  headings_quality, visual_structure,
  problems (array),
  recommended_structure_changes (array)

clarity_readability:
  score (0-10),
  issues (array of strings),
  fixes (array of strings)

eeat_block:
  score (0-10),
  author_info_found (bool),
  expertise_visibility,
  experience_signals,
  trust_signals,
  missing_elements (array)

score_matrix:
  summary_block, definitions, faq, fanout_match,
  canonical_resources, structure, clarity, eeat (0-10 each),
  final_score (int 0-100)

fix_roadmap:
  immediate_fixes_next_24h (array),
  medium_priority_next_7_days (array),
  long_term_next_30_days (array)

raw_data:
  clean_text, html_extracted, tokens, processing_time

Rules:
- Never omit required keys.
- recommended_definitions: at least 3 items when possible.
- recommended_faqs: at least 5 items when possible.
- canonical_resources_block.recommended_resources: at least 3 items;
  first item MUST be the analyzed page URL.
- If content is thin, still infer helpful definitions, FAQ, and resources from
  URL, title, and visible text.
- Keep explanations concise and practical.
- Output JSON object only, no extra text.`

// BuildReport renders the page analysis prompt. The word count doubles as
// the token estimate.
func BuildReport(in ReportInput) Pair {
	var b strings.Builder
	b.WriteString("Analyze this web page and fill the JSON report.\n\n")

	b.WriteString("Metadata:\n")
	fmt.Fprintf(&b, "- URL: %s\n", in.URL)
	fmt.Fprintf(&b, "- Crawl status: %s\n", in.CrawlStatus)
	fmt.Fprintf(&b, "- Detected language: %s\n", in.DetectedLanguage)
	fmt.Fprintf(&b, "- Content type: %s\n", in.ContentType)
	fmt.Fprintf(&b, "- Last crawled: %s\n", in.LastCrawled)
	fmt.Fprintf(&b, "- LLM version: %s\n", in.LLMVersion)
	fmt.Fprintf(&b, "- Word count: %d\n", in.WordCount)
	fmt.Fprintf(&b, "- Token estimate: %d\n", in.WordCount)
	fmt.Fprintf(&b, "- Title: %s\n", in.Title)
	fmt.Fprintf(&b, "- Meta description: %s\n", in.Description)
	fmt.Fprintf(&b, "- H1: %s\n", in.H1)
	if len(in.H2) == 0 {
		b.WriteString("- H2 headings: none\n")
	} else {
		b.WriteString("- H2 headings:\n")
		for _, h := range in.H2 {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}

	b.WriteString("\nCLEAN TEXT (trimmed):\n")
	b.WriteString(truncateRunes(in.CleanText, MaxTextRunes))
	b.WriteString("\n\nHTML SNIPPET (trimmed):\n")
	b.WriteString(truncateRunes(in.HTMLExcerpt, MaxHTMLRunes))

	b.WriteString(`

Use the clean text as your main signal. Use HTML only for structure (headings, sections, presence of FAQ/definitions).
If the page is thin or mostly UI, still propose an ideal summary, definitions, FAQ, and canonical resources
for what this page appears to be about.

Return ONLY the JSON object.`)

	return Pair{System: reportSystem, User: b.String()}
}
