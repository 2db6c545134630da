package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tablechat/tablechat/internal/llm"
	"github.com/tablechat/tablechat/internal/warehouse"
)

type fakeLLM struct {
	calls      int
	lastReq    llm.Request
	completion string
	err        error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.completion, nil
}

var sampleResult = warehouse.ResultSet{
	Columns: []string{"query", "clicks"},
	Rows: [][]any{
		{"best shoes", int64(120)},
		{"running shoes", int64(88)},
	},
}

func TestSummarizeWithoutClientReturnsDisabledMessage(t *testing.T) {
	summarizer := New(nil, Config{Mode: ModeParagraph})
	summary, err := summarizer.Summarize(context.Background(), "q", sampleResult, "SELECT 1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != DisabledMessage {
		t.Fatalf("text = %q", summary.Text)
	}
}

func TestSummarizeEmptyResultSkipsLLM(t *testing.T) {
	fake := &fakeLLM{completion: "should not be used"}
	summarizer := New(fake, Config{Mode: ModeParagraph})

	summary, err := summarizer.Summarize(context.Background(), "q", warehouse.ResultSet{Columns: []string{"a"}}, "SELECT 1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != NoDataMessage {
		t.Fatalf("text = %q", summary.Text)
	}
	if fake.calls != 0 {
		t.Fatalf("llm calls = %d, want 0", fake.calls)
	}
}

func TestSummarizeParagraphMode(t *testing.T) {
	fake := &fakeLLM{completion: "Clicks were led by best shoes with 120."}
	summarizer := New(fake, Config{Mode: ModeParagraph, PreviewRows: 20})

	summary, err := summarizer.Summarize(context.Background(), "top queries?", sampleResult, "SELECT query FROM t")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Findings != nil {
		t.Fatal("paragraph mode should not produce findings")
	}
	if summary.Text != "Clicks were led by best shoes with 120." {
		t.Fatalf("text = %q", summary.Text)
	}
	if fake.lastReq.ForceJSON {
		t.Fatal("paragraph mode must not force a JSON completion")
	}
	if !strings.Contains(fake.lastReq.User, "best shoes,120") {
		t.Fatalf("prompt preview missing row data:\n%s", fake.lastReq.User)
	}
	if !strings.Contains(fake.lastReq.User, "SELECT query FROM t") {
		t.Fatal("prompt should carry the executed statement as context")
	}
}

func TestSummarizeFindingsMode(t *testing.T) {
	fake := &fakeLLM{completion: `{"findings":[
		{"title":"Brand leads","text":"best shoes drives 120 clicks."},
		{"title":"","text":"running shoes follows with 88."},
		{"title":"Empty","text":"   "}
	]}`}
	summarizer := New(fake, Config{Mode: ModeFindings, MaxFindings: 6})

	summary, err := summarizer.Summarize(context.Background(), "q", sampleResult, "SELECT 1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if !fake.lastReq.ForceJSON {
		t.Fatal("findings mode must request a JSON completion")
	}
	if len(summary.Findings) != 2 {
		t.Fatalf("findings = %#v", summary.Findings)
	}
	if summary.Findings[1].Title != "Insight" {
		t.Fatalf("default title = %q", summary.Findings[1].Title)
	}
}

func TestSummarizeFindingsCapsTitleByRunes(t *testing.T) {
	longTitle := strings.Repeat("ç", 130)
	fake := &fakeLLM{completion: fmt.Sprintf(`{"findings":[{"title":"%s","text":"posição média subiu."}]}`, longTitle)}
	summarizer := New(fake, Config{Mode: ModeFindings})

	summary, err := summarizer.Summarize(context.Background(), "q", sampleResult, "SELECT 1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(summary.Findings) != 1 {
		t.Fatalf("findings = %#v", summary.Findings)
	}
	title := summary.Findings[0].Title
	if got := len([]rune(title)); got != 120 {
		t.Fatalf("title runes = %d, want 120", got)
	}
	if !utf8.ValidString(title) {
		t.Fatalf("title is not valid UTF-8: %q", title)
	}
}

func TestSummarizeFindingsCapsCount(t *testing.T) {
	fake := &fakeLLM{completion: `{"findings":[
		{"title":"a","text":"1"},{"title":"b","text":"2"},{"title":"c","text":"3"}
	]}`}
	summarizer := New(fake, Config{Mode: ModeFindings, MaxFindings: 2})

	summary, err := summarizer.Summarize(context.Background(), "q", sampleResult, "SELECT 1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(summary.Findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(summary.Findings))
	}
}

func TestSummarizeFindingsParseFailureFallsBackToFreeText(t *testing.T) {
	fake := &fakeLLM{completion: "not json at all"}
	summarizer := New(fake, Config{Mode: ModeFindings})

	summary, err := summarizer.Summarize(context.Background(), "q", sampleResult, "SELECT 1")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(summary.Findings) != 1 || summary.Findings[0].Title != "Summary" {
		t.Fatalf("findings = %#v", summary.Findings)
	}
	if summary.Findings[0].Text != "not json at all" {
		t.Fatalf("fallback text = %q", summary.Findings[0].Text)
	}
}

func TestSummarizePropagatesLLMFault(t *testing.T) {
	fake := &fakeLLM{err: errors.New("timeout")}
	summarizer := New(fake, Config{Mode: ModeParagraph})
	if _, err := summarizer.Summarize(context.Background(), "q", sampleResult, "SELECT 1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPreviewCSVBoundsRows(t *testing.T) {
	big := warehouse.ResultSet{Columns: []string{"n"}, Rows: [][]any{{1}, {2}, {3}, {4}}}
	csvText := previewCSV(big, 2)
	lines := strings.Split(strings.TrimSpace(csvText), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header plus 2 rows", len(lines))
	}
}
