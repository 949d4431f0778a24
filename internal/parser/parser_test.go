package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/models"
)

var testMtime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)

// priorStub satisfies PriorIndex from a fixed map keyed by path#^id.
type priorStub map[string]models.Callout

func (p priorStub) PriorCallout(path, id string) (models.Callout, bool) {
	c, ok := p[path+"#^"+id]
	return c, ok
}

func parseOne(t *testing.T, text string) models.Callout {
	t.Helper()
	got := New(nil).Parse("doc.md", text, testMtime)
	if len(got) != 1 {
		t.Fatalf("len(callouts) = %d, want 1\ninput:\n%s", len(got), text)
	}
	return got[0]
}

func TestParse_HeaderTypeAndTitle(t *testing.T) {
	c := parseOne(t, "> [!NOTE] Hello World\n> body text\n")
	if c.Type != "note" {
		t.Errorf("type = %q, want %q (case-normalized)", c.Type, "note")
	}
	if c.Title != "Hello World" {
		t.Errorf("title = %q, want %q", c.Title, "Hello World")
	}
	if c.Body != "body text" {
		t.Errorf("body = %q, want %q", c.Body, "body text")
	}
	if c.Line != 1 {
		t.Errorf("line = %d, want 1", c.Line)
	}
}

func TestParse_FoldMarkerConsumed(t *testing.T) {
	for _, in := range []string{"> [!tip]- Folded\n", "> [!tip]+ Folded\n"} {
		c := parseOne(t, in)
		if c.Type != "tip" || c.Title != "Folded" {
			t.Errorf("parse(%q) = type %q title %q", in, c.Type, c.Title)
		}
	}
}

func TestParse_TitleOnlyCallout(t *testing.T) {
	c := parseOne(t, "> [!warning] Heads up\nplain text after\n")
	if c.Title != "Heads up" || c.Body != "" {
		t.Errorf("got title %q body %q, want title-only", c.Title, c.Body)
	}
}

func TestParse_UnbalancedBracketIsNotAHeader(t *testing.T) {
	got := New(nil).Parse("doc.md", "> [!note broken\n> [!]\ntext\n", testMtime)
	if len(got) != 0 {
		t.Fatalf("expected no callouts, got %+v", got)
	}
}

func TestParse_NonQuoteLineEndsBody(t *testing.T) {
	c := parseOne(t, "> [!note] T\n> first\nplain line\n> second\n")
	if c.Body != "first" {
		t.Errorf("body = %q, want %q", c.Body, "first")
	}
}

func TestParse_QuotedBlankContinuesBody(t *testing.T) {
	text := "> [!note] T\n> alpha\n>\n> beta\n"
	c := parseOne(t, text)
	if c.Body != "alpha\n\nbeta" {
		t.Errorf("body = %q, want alpha/blank/beta", c.Body)
	}
}

func TestParse_HeaderAlwaysStartsNewCallout(t *testing.T) {
	// A second header inside the quoted run ends the first callout;
	// callouts never nest.
	text := "> [!note] First\n> a\n> [!note] Second\n> b\n"
	got := New(nil).Parse("doc.md", text, testMtime)
	if len(got) != 2 {
		t.Fatalf("len(callouts) = %d, want 2", len(got))
	}
	if got[0].Title != "First" || got[0].Body != "a" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Title != "Second" || got[1].Body != "b" || got[1].Line != 3 {
		t.Errorf("second = %+v", got[1])
	}
}

func TestParse_PlainBlankSeparatesTwoCallouts(t *testing.T) {
	text := "> [!note] First\n> a\n\n> [!note] Second\n> b\n"
	got := New(nil).Parse("doc.md", text, testMtime)
	if len(got) != 2 {
		t.Fatalf("len(callouts) = %d, want 2", len(got))
	}
	if got[0].Body != "a" {
		t.Errorf("first body = %q, want %q (separator trimmed)", got[0].Body, "a")
	}
}

func TestParse_IDExtractedAndStripped(t *testing.T) {
	c := parseOne(t, "> [!note] T\n> the body ^note-ab12cd\n")
	if c.ID != "note-ab12cd" {
		t.Errorf("id = %q, want %q", c.ID, "note-ab12cd")
	}
	if c.Body != "the body" {
		t.Errorf("body = %q, want marker stripped", c.Body)
	}
}

func TestParse_IDOnOwnLineDropsLine(t *testing.T) {
	c := parseOne(t, "> [!note] T\n> body\n> ^note-ff00aa\n")
	if c.ID != "note-ff00aa" {
		t.Errorf("id = %q", c.ID)
	}
	if c.Body != "body" {
		t.Errorf("body = %q, want emptied marker line dropped", c.Body)
	}
}

func TestParse_CaretMidLineIsNotAnID(t *testing.T) {
	c := parseOne(t, "> [!note] T\n> 2^10 is 1024\n")
	if c.ID != "" {
		t.Errorf("id = %q, want none", c.ID)
	}
	if !strings.Contains(c.Body, "2^10") {
		t.Errorf("body = %q, caret text must survive", c.Body)
	}
}

func TestParse_HeadingPath(t *testing.T) {
	text := "# A\n## B\n### C\n> [!note] T\n"
	c := parseOne(t, text)
	want := []models.Heading{{Text: "A", Level: 1}, {Text: "B", Level: 2}, {Text: "C", Level: 3}}
	assertHeadings(t, c.Headings, want)
}

func TestParse_HeadingPathSiblingReplacement(t *testing.T) {
	text := "# A\n## B\n## B2\n> [!note] T\n"
	c := parseOne(t, text)
	want := []models.Heading{{Text: "A", Level: 1}, {Text: "B2", Level: 2}}
	assertHeadings(t, c.Headings, want)
}

func TestParse_HeadingPathPopsDeeperLevels(t *testing.T) {
	text := "# A\n### C\n## B\n> [!note] T\n"
	c := parseOne(t, text)
	// C sits deeper than the later B, so B pops it.
	want := []models.Heading{{Text: "A", Level: 1}, {Text: "B", Level: 2}}
	assertHeadings(t, c.Headings, want)
}

func TestParse_HeadingsBelowCalloutIgnored(t *testing.T) {
	text := "# A\n> [!note] T\n## After\n"
	c := parseOne(t, text)
	want := []models.Heading{{Text: "A", Level: 1}}
	assertHeadings(t, c.Headings, want)
}

func assertHeadings(t *testing.T, got, want []models.Heading) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("headings = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("headings[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParse_Outlinks(t *testing.T) {
	c := parseOne(t, "> [!note] T\n> see [[Other#^note-aa11bb|that one]] and [[sub/Doc.md#^q-cc22dd]]\n")
	if len(c.Outlinks) != 2 {
		t.Fatalf("outlinks = %+v, want 2", c.Outlinks)
	}
	first := models.Outlink{TargetPath: "Other.md", TargetID: "note-aa11bb", Label: "that one"}
	if c.Outlinks[0] != first {
		t.Errorf("outlinks[0] = %+v, want %+v", c.Outlinks[0], first)
	}
	second := models.Outlink{TargetPath: "sub/Doc.md", TargetID: "q-cc22dd"}
	if c.Outlinks[1] != second {
		t.Errorf("outlinks[1] = %+v, want %+v", c.Outlinks[1], second)
	}
}

func TestParse_ReparseIdempotent(t *testing.T) {
	text := "> [!note] T\n> body ^note-aa22cc\n"
	first := New(nil).Parse("doc.md", text, testMtime)[0]

	prior := priorStub{"doc.md#^note-aa22cc": first}
	later := testMtime.Add(time.Hour)
	second := New(prior).Parse("doc.md", text, later)[0]

	if second.ID != first.ID {
		t.Errorf("id changed across reparse: %q != %q", second.ID, first.ID)
	}
	if second.Created != first.Created {
		t.Errorf("created changed across reparse: %q != %q", second.Created, first.Created)
	}
	if second.Modified != first.Modified {
		t.Errorf("modified changed without edits: %q != %q", second.Modified, first.Modified)
	}
	if second.FileMtime != models.NewTimeString(later) {
		t.Errorf("file mtime = %q, want refreshed", second.FileMtime)
	}
}

func TestParse_BodyChangeAdvancesModifiedOnly(t *testing.T) {
	prior := priorStub{"doc.md#^note-aa22cc": New(nil).Parse(
		"doc.md", "> [!note] T\n> body ^note-aa22cc\n", testMtime)[0]}

	later := testMtime.Add(time.Hour)
	changed := New(prior).Parse("doc.md", "> [!note] T\n> edited ^note-aa22cc\n", later)[0]

	if changed.Created != models.NewTimeString(testMtime) {
		t.Errorf("created = %q, want unchanged %q", changed.Created, models.NewTimeString(testMtime))
	}
	if changed.Modified != models.NewTimeString(later) {
		t.Errorf("modified = %q, want advanced to %q", changed.Modified, models.NewTimeString(later))
	}
}

func TestParse_CanvasHintsCarriedForward(t *testing.T) {
	prev := New(nil).Parse("doc.md", "> [!note] T\n> body ^note-aa22cc\n", testMtime)[0]
	prev.CanvasWidth, prev.CanvasHeight = 400, 140
	prior := priorStub{"doc.md#^note-aa22cc": prev}

	again := New(prior).Parse("doc.md", "> [!note] T\n> body ^note-aa22cc\n", testMtime)[0]
	if again.CanvasWidth != 400 || again.CanvasHeight != 140 {
		t.Errorf("canvas hints = %dx%d, want 400x140", again.CanvasWidth, again.CanvasHeight)
	}
}

func TestParse_UnidentifiedAlwaysUsesDocMtime(t *testing.T) {
	prior := priorStub{}
	c := New(prior).Parse("doc.md", "> [!note] T\n> body\n", testMtime)[0]
	want := models.NewTimeString(testMtime)
	if c.Created != want || c.Modified != want {
		t.Errorf("times = %q/%q, want both %q", c.Created, c.Modified, want)
	}
}

func TestParse_MultipleCalloutsKeepDocumentOrder(t *testing.T) {
	text := "intro\n\n> [!note] One\n\ntext\n\n> [!bug] Two\n> b\n\n> [!QUOTE] Three\n"
	got := New(nil).Parse("doc.md", text, testMtime)
	if len(got) != 3 {
		t.Fatalf("len(callouts) = %d, want 3", len(got))
	}
	wantTypes := []string{"note", "bug", "quote"}
	for i, w := range wantTypes {
		if got[i].Type != w {
			t.Errorf("callouts[%d].Type = %q, want %q", i, got[i].Type, w)
		}
	}
	if !(got[0].Line < got[1].Line && got[1].Line < got[2].Line) {
		t.Errorf("lines not ascending: %d %d %d", got[0].Line, got[1].Line, got[2].Line)
	}
}

func TestExtractOutlinks_IterationCapKeepsPartial(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxScanIterations+50; i++ {
		b.WriteString("[[D#^note-ab12cd]] ")
	}
	links := extractOutlinks(b.String())
	if len(links) != maxScanIterations {
		t.Fatalf("len(links) = %d, want capped at %d", len(links), maxScanIterations)
	}
}

func TestParse_CRLFInput(t *testing.T) {
	c := parseOne(t, "> [!note] T\r\n> body\r\n")
	if c.Title != "T" || c.Body != "body" {
		t.Errorf("CRLF parse = title %q body %q", c.Title, c.Body)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	if got := New(nil).Parse("doc.md", "", testMtime); len(got) != 0 {
		t.Fatalf("expected no callouts, got %+v", got)
	}
}
