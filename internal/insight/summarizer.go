package insight

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tablechat/tablechat/internal/llm"
	"github.com/tablechat/tablechat/internal/warehouse"
)

type Mode string

const (
	ModeParagraph Mode = "paragraph"
	ModeBullets   Mode = "bullets"
	ModeFindings  Mode = "findings"
)

func ValidMode(mode Mode) bool {
	switch mode {
	case ModeParagraph, ModeBullets, ModeFindings:
		return true
	default:
		return false
	}
}

// Finding is one titled unit of narrative insight in structured mode.
type Finding struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Summary is the tagged result variant: free text when Findings is nil,
// a findings list otherwise.
type Summary struct {
	Text     string    `json:"text,omitempty"`
	Findings []Finding `json:"findings,omitempty"`
}

const (
	DisabledMessage = "Narrative answers are disabled. Configure the LLM credential to enable them."
	NoDataMessage   = "No data for this slice. Try widening the period or removing filters."

	maxFindingTitleLen = 120
)

type Config struct {
	Mode        Mode
	PreviewRows int
	MaxFindings int
	Temperature float64
}

// Summarizer produces the natural-language answer for an executed
// statement. The result preview fed to the model is bounded; the model is
// told to keep SQL out of the answer and to invent no numbers.
type Summarizer struct {
	client llm.Client
	cfg    Config
}

func New(client llm.Client, cfg Config) *Summarizer {
	if !ValidMode(cfg.Mode) {
		cfg.Mode = ModeFindings
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 40
	}
	if cfg.MaxFindings <= 0 {
		cfg.MaxFindings = 6
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	return &Summarizer{client: client, cfg: cfg}
}

func (s *Summarizer) Summarize(ctx context.Context, question string, result warehouse.ResultSet, statementUsed string) (Summary, error) {
	if s.client == nil {
		return Summary{Text: DisabledMessage}, nil
	}
	if result.Empty() {
		return Summary{Text: NoDataMessage}, nil
	}

	req := llm.Request{
		System:      s.systemPrompt(),
		User:        s.userPrompt(question, result, statementUsed),
		Temperature: s.cfg.Temperature,
		ForceJSON:   s.cfg.Mode == ModeFindings,
	}
	completion, err := s.client.Complete(ctx, req)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize result: %w", err)
	}

	if s.cfg.Mode == ModeFindings {
		return s.parseFindings(completion), nil
	}
	return Summary{Text: strings.TrimSpace(completion)}, nil
}

func (s *Summarizer) systemPrompt() string {
	base := "You are a marketing and SEO analyst working on search performance data. " +
		"Base every number strictly on the result preview; never invent values. " +
		"Never mention, describe, or reproduce SQL in your answer."
	switch s.cfg.Mode {
	case ModeBullets:
		return base + " Answer as a bullet list of three to six short, factual points."
	case ModeFindings:
		return base + ` Answer with valid JSON shaped as {"findings":[{"title":"...","text":"..."}]}: short, actionable findings.`
	default:
		return base + " Answer in one or two short paragraphs, direct and number-driven."
	}
}

func (s *Summarizer) userPrompt(question string, result warehouse.ResultSet, statementUsed string) string {
	var b strings.Builder
	if s.cfg.Mode == ModeFindings {
		fmt.Fprintf(&b, "Produce at most %d findings.\n\n", s.cfg.MaxFindings)
	}
	fmt.Fprintf(&b, "User question:\n%s\n\n", strings.TrimSpace(question))
	fmt.Fprintf(&b, "Executed SQL (context only, do not discuss it):\n%s\n\n", statementUsed)
	fmt.Fprintf(&b, "Result preview (CSV, up to %d rows):\n%s", s.cfg.PreviewRows, previewCSV(result, s.cfg.PreviewRows))
	return b.String()
}

func (s *Summarizer) parseFindings(completion string) Summary {
	var parsed struct {
		Findings []struct {
			Title string `json:"title"`
			Text  string `json:"text"`
		} `json:"findings"`
	}
	if err := json.Unmarshal([]byte(completion), &parsed); err != nil {
		// Degrade to a single finding wrapping the raw completion.
		return Summary{Findings: []Finding{{Title: "Summary", Text: strings.TrimSpace(completion)}}}
	}

	findings := make([]Finding, 0, s.cfg.MaxFindings)
	for _, item := range parsed.Findings {
		if len(findings) == s.cfg.MaxFindings {
			break
		}
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Insight"
		}
		// Cap by runes, not bytes: accented titles must not end in a
		// split multi-byte sequence.
		if runes := []rune(title); len(runes) > maxFindingTitleLen {
			title = string(runes[:maxFindingTitleLen])
		}
		findings = append(findings, Finding{Title: title, Text: text})
	}
	if len(findings) == 0 {
		return Summary{Findings: []Finding{{Title: "No insights", Text: "The returned data is too thin to produce useful findings."}}}
	}
	return Summary{Findings: findings}
}

func previewCSV(result warehouse.ResultSet, maxRows int) string {
	preview := result.Truncate(maxRows)
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(preview.Columns)
	for _, row := range preview.Rows {
		record := make([]string, len(row))
		for i, value := range row {
			if value == nil {
				continue
			}
			record[i] = fmt.Sprint(value)
		}
		_ = w.Write(record)
	}
	w.Flush()
	return b.String()
}
