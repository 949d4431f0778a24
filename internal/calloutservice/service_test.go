package calloutservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/cache"
	"github.com/starford/othala/internal/canvas"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/parser"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/testutil"
)

type env struct {
	vault string
	docs  storage.Provider
	store *cache.Store
	svc   *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, func(p storage.Provider) storage.Provider { return p })
}

// newEnvWith lets a test wrap the storage provider, e.g. to inject write
// failures.
func newEnvWith(t *testing.T, wrap func(storage.Provider) storage.Provider) *env {
	t.Helper()
	vault, fsp := testutil.TestVault(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := wrap(fsp)

	store := cache.NewStore(filepath.Join(t.TempDir(), "cache.json"), vault, logger)
	p := parser.New(store)
	db := testutil.TestIndex(t)

	upd := cache.NewUpdater(store, docs, p, time.Hour, logger, index.Refresher(db, store, logger), nil)
	svc := NewService(docs, store, upd, p, db, logger, Options{})
	return &env{vault: vault, docs: docs, store: store, svc: svc}
}

func (e *env) write(t *testing.T, path, content string) {
	t.Helper()
	if err := e.docs.Write(path, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const twoCallouts = `# Doc

> [!note] Alpha
> First body.

> [!warning] Beta
> Second body.
`

func TestExtractCurrentDocument(t *testing.T) {
	e := newEnv(t)
	e.write(t, "doc.md", twoCallouts)

	got, err := e.svc.ExtractCurrentDocument(context.Background(), "doc.md")
	if err != nil {
		t.Fatalf("ExtractCurrentDocument: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("callouts = %d, want 2", len(got))
	}
	if got[0].Type != "note" || got[0].Title != "Alpha" || got[1].Type != "warning" {
		t.Errorf("parsed wrong: %+v", got)
	}
	if len(e.store.Callouts()) != 2 {
		t.Error("store not updated")
	}
}

func TestExtractCurrentDocument_Missing(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.ExtractCurrentDocument(context.Background(), "ghost.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExtractAllDocuments_FewNewDocsCatchUpIncrementally(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "> [!note] A\n> Body.\n")
	e.write(t, "b.md", "> [!note] B\n> Body.\n")

	got, err := e.svc.ExtractAllDocuments(context.Background(), "")
	if err != nil {
		t.Fatalf("ExtractAllDocuments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("callouts = %d, want 2", len(got))
	}
}

func TestExtractAllDocuments_ManyNewDocsFullScan(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 7; i++ {
		e.write(t, fmt.Sprintf("doc%d.md", i), "> [!note] N\n> Body.\n")
	}

	got, err := e.svc.ExtractAllDocuments(context.Background(), "")
	if err != nil {
		t.Fatalf("ExtractAllDocuments: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("callouts = %d, want 7", len(got))
	}
}

func TestExtractAllDocuments_DeletionDropsStaleRecords(t *testing.T) {
	e := newEnv(t)
	e.write(t, "keep.md", "> [!note] Keep\n> Body.\n")
	e.write(t, "gone.md", "> [!note] Gone\n> Body.\n")
	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(e.vault, "gone.md")); err != nil {
		t.Fatal(err)
	}

	got, err := e.svc.ExtractAllDocuments(context.Background(), "")
	if err != nil {
		t.Fatalf("ExtractAllDocuments: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Keep" {
		t.Fatalf("stale records survived: %+v", got)
	}
}

func TestRefreshAll_PreservesIdentityTimes(t *testing.T) {
	e := newEnv(t)
	e.write(t, "doc.md", "> [!note] Alpha\n> Body text.\n")

	ref, err := e.svc.AssignIdentifier(context.Background(), "doc.md", 1)
	if err != nil {
		t.Fatalf("AssignIdentifier: %v", err)
	}
	before, _ := e.store.Find(ref)

	// Touch the file without changing callout content.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(e.vault, "doc.md"), future, future); err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	after, ok := e.store.Find(ref)
	if !ok {
		t.Fatal("identified callout lost in rescan")
	}
	if after.Created != before.Created {
		t.Errorf("created regressed: %s → %s", before.Created, after.Created)
	}
	if after.Modified != before.Modified {
		t.Errorf("modified advanced without a content change: %s → %s", before.Modified, after.Modified)
	}
}

func TestAssignIdentifier(t *testing.T) {
	e := newEnv(t)
	e.write(t, "doc.md", twoCallouts)

	ref, err := e.svc.AssignIdentifier(context.Background(), "doc.md", 3)
	if err != nil {
		t.Fatalf("AssignIdentifier: %v", err)
	}
	if !regexp.MustCompile(`^note-[a-z0-9]{6}$`).MatchString(ref.ID) {
		t.Errorf("id = %q, want note-xxxxxx", ref.ID)
	}

	data, _ := e.docs.Read("doc.md")
	if !strings.Contains(string(data), "First body. ^"+ref.ID) {
		t.Errorf("marker not injected into source:\n%s", data)
	}

	c, ok := e.store.Find(ref)
	if !ok {
		t.Fatal("assigned id not indexed")
	}
	if c.Body != "First body." {
		t.Errorf("marker leaked into body: %q", c.Body)
	}

	// Idempotent: a second call returns the same ref.
	again, err := e.svc.AssignIdentifier(context.Background(), "doc.md", 3)
	if err != nil || again != ref {
		t.Errorf("second assignment = %v (%v), want %v", again, err, ref)
	}
}

func TestAssignIdentifier_BodylessCallout(t *testing.T) {
	e := newEnv(t)
	e.write(t, "doc.md", "> [!todo] Just a title\n\nplain text\n")

	ref, err := e.svc.AssignIdentifier(context.Background(), "doc.md", 1)
	if err != nil {
		t.Fatalf("AssignIdentifier: %v", err)
	}
	c, ok := e.store.Find(ref)
	if !ok {
		t.Fatal("assigned id not indexed")
	}
	if c.Body != "" {
		t.Errorf("body = %q, want empty", c.Body)
	}
	data, _ := e.docs.Read("doc.md")
	if !strings.Contains(string(data), "> ^"+ref.ID) {
		t.Errorf("marker line not inserted:\n%s", data)
	}
}

func TestAssignIdentifier_NoCallout(t *testing.T) {
	e := newEnv(t)
	e.write(t, "doc.md", "just prose\n")
	_, err := e.svc.AssignIdentifier(context.Background(), "doc.md", 1)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type failingWrites struct {
	storage.Provider
	fail bool
}

func (f *failingWrites) Write(path string, content []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Provider.Write(path, content)
}

func TestAssignIdentifier_WriteFailureLeavesNoTrace(t *testing.T) {
	var fw *failingWrites
	e := newEnvWith(t, func(p storage.Provider) storage.Provider {
		fw = &failingWrites{Provider: p}
		return fw
	})
	e.write(t, "doc.md", "> [!note] Alpha\n> Body.\n")
	if _, err := e.svc.ExtractCurrentDocument(context.Background(), "doc.md"); err != nil {
		t.Fatal(err)
	}

	fw.fail = true
	_, err := e.svc.AssignIdentifier(context.Background(), "doc.md", 1)
	if err == nil {
		t.Fatal("expected write failure")
	}

	fw.fail = false
	got, _ := e.svc.ExtractCurrentDocument(context.Background(), "doc.md")
	if len(got) != 1 || got[0].ID != "" {
		t.Errorf("failed assignment left a trace: %+v", got)
	}
}

func TestSearchAndBacklinks(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "> [!note] Alpha\n> Unmistakable keyword with [[b#^note-bbbbbb|see also]]. ^note-aaaaaa\n")
	e.write(t, "b.md", "> [!note] Bravo\n> Target body. ^note-bbbbbb\n")
	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	hits, err := e.svc.Search(context.Background(), "Unmistakable", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Path != "a.md" {
		t.Errorf("search = %+v", hits)
	}

	bl, err := e.svc.Backlinks(context.Background(), models.Ref{Path: "b.md", ID: "note-bbbbbb"})
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 1 || bl[0].Path != "a.md" || bl[0].ID != "note-aaaaaa" || bl[0].Label != "see also" {
		t.Errorf("backlinks = %+v", bl)
	}
}

func TestListCallouts(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "> [!note] One\n> Body.\n\n> [!warning] Two\n> Body.\n")
	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	rows, total, err := e.svc.ListCallouts(context.Background(), 10, 0, "warning", "")
	if err != nil {
		t.Fatalf("ListCallouts: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].Type != "warning" {
		t.Errorf("rows = %+v total = %d", rows, total)
	}
}

func TestBuildRelationshipGraph(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "> [!note] Alpha\n> Links to [[b#^note-bbbbbb]] here.\n")
	e.write(t, "b.md", "> [!note] Bravo\n> Content. ^note-bbbbbb\n")
	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	res, err := e.svc.BuildRelationshipGraph(context.Background(), "a.md", 1)
	if err != nil {
		t.Fatalf("BuildRelationshipGraph: %v", err)
	}
	if res.Nodes != 2 || res.Edges != 1 {
		t.Errorf("result = %+v, want 2 nodes 1 edge", res)
	}
	if !strings.HasPrefix(res.Artifact, "canvases/") || !strings.HasSuffix(res.Artifact, ".canvas") {
		t.Errorf("artifact path = %q", res.Artifact)
	}

	data, err := e.docs.Read(res.Artifact)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	f, err := canvas.Decode(data)
	if err != nil {
		t.Fatalf("artifact malformed: %v", err)
	}
	focal, ok := f.FindNode(res.Focal)
	if !ok {
		t.Fatal("focal node missing from artifact")
	}
	if focal.X != 0 || focal.Y != 0 {
		t.Errorf("focal not at origin: (%d,%d)", focal.X, focal.Y)
	}
}

func TestBuildRelationshipGraph_KeepsManualResizeAndEdges(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "> [!note] Alpha\n> Links to [[b#^note-bbbbbb]]. ^note-aaaaaa\n")
	e.write(t, "b.md", "> [!note] Bravo\n> Content. ^note-bbbbbb\n")
	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	res, err := e.svc.BuildRelationshipGraph(context.Background(), "a.md", 1)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate manual edits: resize the focal node and draw a reverse edge.
	data, _ := e.docs.Read(res.Artifact)
	f, _ := canvas.Decode(data)
	focalID := canvas.NodeID(res.Focal)
	otherID := canvas.NodeID(models.Ref{Path: "b.md", ID: "note-bbbbbb"})
	for i := range f.Nodes {
		if f.Nodes[i].ID == focalID {
			f.Nodes[i].Width, f.Nodes[i].Height = 999, 333
		}
	}
	f.Edges = append(f.Edges, canvas.Edge{
		ID: "manual", FromNode: otherID, ToNode: focalID, Label: "hand-drawn",
	})
	edited, _ := canvas.Encode(f)
	if err := e.docs.Write(res.Artifact, edited); err != nil {
		t.Fatal(err)
	}

	res2, err := e.svc.BuildRelationshipGraph(context.Background(), "a.md", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Artifact != res.Artifact {
		t.Fatalf("artifact path changed: %q → %q", res.Artifact, res2.Artifact)
	}

	data, _ = e.docs.Read(res2.Artifact)
	rebuilt, err := canvas.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	focal, _ := rebuilt.FindNode(res.Focal)
	if focal.Width != 999 || focal.Height != 333 {
		t.Errorf("manual resize lost: %dx%d", focal.Width, focal.Height)
	}
	if res2.Edges != 2 {
		t.Errorf("manual edge lost: %d edges", res2.Edges)
	}
	var labels []string
	for _, edge := range rebuilt.Edges {
		labels = append(labels, edge.Label)
	}
	found := false
	for _, l := range labels {
		if l == "hand-drawn" {
			found = true
		}
	}
	if !found {
		t.Errorf("edge labels = %v, want hand-drawn among them", labels)
	}
}

func TestBuildRelationshipGraph_AssignsIDWhenAbsent(t *testing.T) {
	e := newEnv(t)
	e.write(t, "solo.md", "> [!question] Lonely\n> No links here.\n")
	if _, err := e.svc.RefreshAll(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	res, err := e.svc.BuildRelationshipGraph(context.Background(), "solo.md", 1)
	if err != nil {
		t.Fatalf("BuildRelationshipGraph: %v", err)
	}
	if !strings.HasPrefix(res.Focal.ID, "question-") {
		t.Errorf("focal id = %q", res.Focal.ID)
	}
	if res.Nodes != 1 || res.Edges != 0 {
		t.Errorf("solo graph = %+v", res)
	}
	data, _ := e.docs.Read("solo.md")
	if !strings.Contains(string(data), "^"+res.Focal.ID) {
		t.Error("id not persisted to source before the build")
	}
}

func TestCalloutAt(t *testing.T) {
	cs := []models.Callout{
		{Path: "d.md", Line: 10, Title: "second"},
		{Path: "d.md", Line: 2, Title: "first"},
	}
	if c, ok := calloutAt(cs, 5); !ok || c.Title != "first" {
		t.Errorf("line 5 → %+v", c)
	}
	if c, ok := calloutAt(cs, 10); !ok || c.Title != "second" {
		t.Errorf("line 10 → %+v", c)
	}
	if c, ok := calloutAt(cs, 0); !ok || c.Title != "first" {
		t.Errorf("line 0 → %+v", c)
	}
	if _, ok := calloutAt(cs, 1); ok {
		t.Error("line above every callout must not match")
	}
	if _, ok := calloutAt(nil, 3); ok {
		t.Error("empty doc must not match")
	}
}

func TestInjectIDMarker(t *testing.T) {
	text := "> [!note] T\n> line one\n> line two\n\nprose\n"
	got, ok := injectIDMarker(text, 1, "note-abc123")
	if !ok {
		t.Fatal("injection refused")
	}
	if !strings.Contains(got, "> line two ^note-abc123") {
		t.Errorf("marker not on last body line:\n%s", got)
	}

	// CRLF endings survive.
	crlf := "> [!note] T\r\n> body\r\n"
	got, ok = injectIDMarker(crlf, 1, "note-abc123")
	if !ok {
		t.Fatal("crlf injection refused")
	}
	if !strings.Contains(got, "> body ^note-abc123\r\n") {
		t.Errorf("crlf mangled:\n%q", got)
	}

	// Stale header position is rejected.
	if _, ok := injectIDMarker("plain text\n", 1, "note-abc123"); ok {
		t.Error("non-header line accepted")
	}
	if _, ok := injectIDMarker(text, 99, "note-abc123"); ok {
		t.Error("out-of-range line accepted")
	}
}

func TestIDPrefix(t *testing.T) {
	for in, want := range map[string]string{
		"note":        "note",
		"warning":     "warning",
		"my type!":    "mytype",
		"???":         "note",
		"check-later": "check-later",
	} {
		if got := idPrefix(in); got != want {
			t.Errorf("idPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
