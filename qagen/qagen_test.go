package qagen

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brunobiangulo/goqa/llm"
	"github.com/brunobiangulo/goqa/parser"
)

// fakeChat returns canned replies in order and records every request.
type fakeChat struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	reqs    []llm.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) {
		return &llm.ChatResponse{Content: f.replies[i]}, nil
	}
	return &llm.ChatResponse{Content: ""}, nil
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func testImages() *parser.ImageMap {
	m := parser.NewImageMap()
	m.Add("[IMAGE_1]", "https://i.example.com/a.png")
	m.Add("[IMAGE_2]", "https://i.example.com/b.png")
	return m
}

// ---------------------------------------------------------------------------
// Questions
// ---------------------------------------------------------------------------

func TestQuestionsParsesArray(t *testing.T) {
	chat := &fakeChat{replies: []string{`["问题一？","问题二？"]`}}
	g := New(chat, Config{Model: "m"})

	got := g.Questions(context.Background(), "段落", 3)
	want := []Question{{Text: "问题一？"}, {Text: "问题二？"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Questions = %+v, want %+v", got, want)
	}

	req := chat.reqs[0]
	if req.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", req.Temperature)
	}
	if req.Model != "m" {
		t.Errorf("model = %q, want m", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "段落") {
		t.Error("user prompt does not carry the paragraph")
	}
}

func TestQuestionsFencedAndObjects(t *testing.T) {
	reply := "```json\n[{\"question\":\"甲？\"},\"乙？\",42,{\"other\":1}]\n```"
	g := New(&fakeChat{replies: []string{reply}}, Config{})

	got := g.Questions(context.Background(), "p", 5)
	want := []Question{{Text: "甲？"}, {Text: "乙？"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Questions = %+v, want %+v", got, want)
	}
}

func TestQuestionsCappedAtMax(t *testing.T) {
	g := New(&fakeChat{replies: []string{`["a","b","c","d"]`}}, Config{})
	if got := g.Questions(context.Background(), "p", 2); len(got) != 2 {
		t.Errorf("got %d questions, want 2", len(got))
	}
}

func TestQuestionsRawFallback(t *testing.T) {
	g := New(&fakeChat{replies: []string{"1. 甲方是谁？"}}, Config{})
	got := g.Questions(context.Background(), "p", 3)
	want := []Question{{Text: "1. 甲方是谁？", Raw: true}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Questions = %+v, want %+v", got, want)
	}
}

func TestQuestionsCallFailure(t *testing.T) {
	g := New(&fakeChat{errs: []error{errors.New("boom")}}, Config{})
	if got := g.Questions(context.Background(), "p", 3); got != nil {
		t.Errorf("Questions = %+v, want nil", got)
	}
}

// ---------------------------------------------------------------------------
// Answers
// ---------------------------------------------------------------------------

func TestAnswer(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  string
	}{
		{"plain", "  每月1日。 ", nil, "每月1日。"},
		{"empty reply", "", nil, NoAnswer},
		{"call fails", "", errors.New("down"), AnswerFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{replies: []string{tt.reply}, errs: []error{tt.err}}
			g := New(chat, Config{})
			if got := g.Answer(context.Background(), "段落", "问题？", nil); got != tt.want {
				t.Errorf("Answer = %q, want %q", got, tt.want)
			}
			if chat.reqs[0].Temperature != 0.2 {
				t.Errorf("temperature = %v, want 0.2", chat.reqs[0].Temperature)
			}
		})
	}
}

func TestAnswerImageShortcut(t *testing.T) {
	chat := &fakeChat{}
	g := New(chat, Config{})

	got := g.Answer(context.Background(), "如图 [IMAGE_2] 所示", "示意图是什么？", testImages())
	if got != "https://i.example.com/b.png" {
		t.Errorf("Answer = %q, want image b", got)
	}
	if chat.calls() != 0 {
		t.Errorf("model called %d times, want 0", chat.calls())
	}
}

func TestAnswerUnknownPlaceholderCallsModel(t *testing.T) {
	chat := &fakeChat{replies: []string{"答案"}}
	g := New(chat, Config{})

	got := g.Answer(context.Background(), "见 [IMAGE_9]", "问题？", testImages())
	if got != "答案" {
		t.Errorf("Answer = %q, want 答案", got)
	}
	if chat.calls() != 1 {
		t.Errorf("model called %d times, want 1", chat.calls())
	}
}

// ---------------------------------------------------------------------------
// Cleaning
// ---------------------------------------------------------------------------

func TestCleanJoinsBlocks(t *testing.T) {
	chat := &fakeChat{replies: []string{"甲", "乙"}}
	g := New(chat, Config{CleanBlockSize: 10})

	text := strings.Repeat("一", 8) + "\n\n" + strings.Repeat("二", 8)
	got, ok := g.Clean(context.Background(), text)
	if !ok || got != "甲\n\n乙" {
		t.Errorf("Clean = %q, %v; want \"甲\\n\\n乙\", true", got, ok)
	}
	if chat.calls() != 2 {
		t.Errorf("model called %d times, want 2", chat.calls())
	}
	for _, r := range chat.reqs {
		if r.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", r.Temperature)
		}
	}
}

func TestCleanBlockFailure(t *testing.T) {
	chat := &fakeChat{replies: []string{"甲"}, errs: []error{nil, errors.New("down")}}
	g := New(chat, Config{CleanBlockSize: 10})

	text := strings.Repeat("一", 8) + "\n\n" + strings.Repeat("二", 8)
	if got, ok := g.Clean(context.Background(), text); ok || got != "" {
		t.Errorf("Clean = %q, %v; want \"\", false", got, ok)
	}
}

func TestCleanPromptCarriesRules(t *testing.T) {
	p := cleanPrompt("文本", Rules{Global: "全局规则", Clean: "清洗规则"})
	all := p.system + p.user
	for _, want := range []string{"全局规则", "清洗规则", "文本"} {
		if !strings.Contains(all, want) {
			t.Errorf("clean prompt missing %q", want)
		}
	}
}

func TestSplitBlocks(t *testing.T) {
	text := "aaaa\n\nbbbb\n\n\n\ncccccccccccc\n\ndd"
	got := splitBlocks(text, 10)
	want := []string{"aaaa\n\nbbbb", "cccccccccccc", "dd"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitBlocks = %q, want %q", got, want)
	}
	if got := splitBlocks("  \n\n ", 10); got != nil {
		t.Errorf("splitBlocks(blank) = %q, want nil", got)
	}
}

// ---------------------------------------------------------------------------
// Paragraph merging
// ---------------------------------------------------------------------------

func TestMergeParagraphs(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		min    int
		max    int
		want   []string
	}{
		{
			name:   "flush at min",
			chunks: []string{"aaa", "bbb", "ccc"},
			min:    5, max: 20,
			want: []string{"aaa bbb", "ccc"},
		},
		{
			name:   "overflow starts new buffer",
			chunks: []string{"aaaaaa", "bbbbbbbbbbbbbbbbbbbb", "cc"},
			min:    10, max: 15,
			want: []string{"aaaaaa", "bbbbbbbbbbbbbbbbbbbb", "cc"},
		},
		{
			name:   "runes not bytes",
			chunks: []string{"一二", "三四"},
			min:    4, max: 10,
			want: []string{"一二 三四"},
		},
		{
			name: "empty",
			min:  1, max: 2,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeParagraphs(tt.chunks, tt.min, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeParagraphs = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestGenerateQuestionsSkipsRaw(t *testing.T) {
	chat := &fakeChat{replies: []string{`["问一？","问二？"]`, "不是数组"}}
	g := New(chat, Config{MinParagraph: 5, MaxParagraph: 12})

	chunks := []string{"第一段内容 [IMAGE_1]", "第二段内容很长的"}
	items, err := g.GenerateQuestions(context.Background(), chunks, testImages())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	if items[0].Context != "第一段内容 [IMAGE_1]" || items[1].Question != "问二？" {
		t.Errorf("unexpected items: %+v", items)
	}
	if !reflect.DeepEqual(items[0].Images, []string{"https://i.example.com/a.png"}) {
		t.Errorf("Images = %q", items[0].Images)
	}
}

func TestGenerateQuestionsCleansQuestions(t *testing.T) {
	chat := &fakeChat{
		replies: []string{`["问一？？","问二"]`, "问一？", ""},
	}
	g := New(chat, Config{MinParagraph: 1, MaxParagraph: 100, CleanQuestions: true})

	items, err := g.GenerateQuestions(context.Background(), []string{"段落"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{items[0].Question, items[1].Question}
	want := []string{"问一？", "问二"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("questions = %q, want %q", got, want)
	}
}

func TestGenerateAnswers(t *testing.T) {
	chat := &fakeChat{replies: []string{"答一"}}
	g := New(chat, Config{})

	in := []Item{
		{Context: "段落", Question: "问？"},
		{Context: "图 [IMAGE_1]", Question: "图？"},
	}
	out, err := g.GenerateAnswers(context.Background(), in, testImages())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Answer != "答一" || out[1].Answer != "https://i.example.com/a.png" {
		t.Errorf("answers = %q, %q", out[0].Answer, out[1].Answer)
	}
	if !reflect.DeepEqual(out[1].Images, []string{"https://i.example.com/a.png"}) {
		t.Errorf("Images = %q", out[1].Images)
	}
	if chat.calls() != 1 {
		t.Errorf("model called %d times, want 1", chat.calls())
	}
}

func TestGenerateAnswersCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := New(&fakeChat{}, Config{})
	if _, err := g.GenerateAnswers(ctx, []Item{{Context: "c", Question: "q"}}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWriteReadItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers", "doc.json")
	items := []Item{{Context: "c", Question: "q", Answer: "a", Images: []string{}}}
	if err := WriteItems(path, items); err != nil {
		t.Fatal(err)
	}
	got, err := ReadItems(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, items) {
		t.Errorf("ReadItems = %+v, want %+v", got, items)
	}
}

func TestLimiterSpacesCalls(t *testing.T) {
	chat := &fakeChat{replies: []string{"a", "b", "c"}}
	g := New(chat, Config{RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		g.Answer(context.Background(), "p", "q", nil)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 calls at 20 rps took %v, want at least 80ms", elapsed)
	}
}
