// Package parser extracts callout blocks from Markdown content.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/starford/othala/internal/models"
)

var (
	headerRe  = regexp.MustCompile(`^>\s*\[!([^\[\]]+)\][+-]?[ \t]*(.*)$`)
	headingRe = regexp.MustCompile(`^(#{1,6})[ \t]+(\S.*)$`)
	idRe      = regexp.MustCompile(`(^|[ \t])\^([A-Za-z0-9-]+)[ \t]*$`)
	outlinkRe = regexp.MustCompile(`\[\[([^\[\]#|]+)#\^([A-Za-z0-9-]+)(?:\|([^\[\]]*))?\]\]`)
)

// maxScanIterations bounds every repeated regex scan over one document so
// a pathological input cannot loop forever. On hitting the cap the scan
// stops and keeps what was already extracted.
const maxScanIterations = 10000

// PriorIndex resolves callouts from an earlier parse so identity and
// timestamps carry forward across re-parses.
type PriorIndex interface {
	// PriorCallout returns the previously indexed callout for (path, id)
	// and whether one exists.
	PriorCallout(path, id string) (models.Callout, bool)
}

// Parser scans Markdown text for callout blocks. A nil prior index is
// valid and yields a cold parse.
type Parser struct {
	prior PriorIndex
}

// New returns a Parser that consults prior for identity carry-forward.
func New(prior PriorIndex) *Parser {
	return &Parser{prior: prior}
}

// heading is a raw heading occurrence before stack folding.
type heading struct {
	text  string
	level int
	line  int
}

// Parse extracts every callout from text. It is deterministic, performs
// no I/O, and never fails: malformed constructs are not callouts. mtime
// is the owning document's modification time.
func (p *Parser) Parse(path, text string, mtime time.Time) []models.Callout {
	lines := splitLines(text)
	headings := collectHeadings(lines)
	docMtime := models.NewTimeString(mtime)

	var out []models.Callout
	var open *models.Callout
	var body []string

	closeOpen := func() {
		if open == nil {
			return
		}
		open.Body = joinBody(body)
		open.ID, open.Body = extractID(open.Body)
		open.Headings = headingPath(headings, open.Line)
		open.Outlinks = extractOutlinks(open.Body)
		p.resolveTimes(open, docMtime)
		out = append(out, *open)
		open, body = nil, nil
	}

	for i, line := range lines {
		if len(line) == 0 || line[0] != '>' {
			// Fast path: most lines are not quoted. Blank lines are body
			// separators for an open callout, anything else ends it.
			if open != nil {
				if strings.TrimSpace(line) == "" {
					body = append(body, "")
				} else {
					closeOpen()
				}
			}
			continue
		}
		if m := headerRe.FindStringSubmatch(line); m != nil {
			closeOpen()
			open = &models.Callout{
				Path:  path,
				Type:  strings.ToLower(strings.TrimSpace(m[1])),
				Title: strings.TrimSpace(m[2]),
				Line:  i + 1,
			}
			continue
		}
		if open != nil {
			body = append(body, stripQuote(line))
		}
	}
	closeOpen()

	return out
}

// IsHeader reports whether line opens a callout block. Lets callers walk
// a block's extent without a full parse.
func IsHeader(line string) bool {
	return headerRe.MatchString(strings.TrimSuffix(line, "\r"))
}

// resolveTimes fills FileMtime, Created and Modified, carrying identity
// times forward from the prior index when the callout has an id.
func (p *Parser) resolveTimes(c *models.Callout, docMtime models.TimeString) {
	c.FileMtime = docMtime
	if c.ID != "" && p.prior != nil {
		if prev, ok := p.prior.PriorCallout(c.Path, c.ID); ok {
			c.Created = prev.Created
			c.Modified = prev.Modified
			if !c.ContentEqual(prev) {
				c.Modified = docMtime
			}
			c.CanvasWidth = prev.CanvasWidth
			c.CanvasHeight = prev.CanvasHeight
			return
		}
	}
	c.Created = docMtime
	c.Modified = docMtime
}

// splitLines splits on newlines, tolerating CRLF endings.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// collectHeadings gathers every heading line with its 1-based line number.
func collectHeadings(lines []string) []heading {
	var out []heading
	for i, line := range lines {
		if len(line) == 0 || line[0] != '#' {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			out = append(out, heading{
				text:  strings.TrimSpace(m[2]),
				level: len(m[1]),
				line:  i + 1,
			})
		}
	}
	return out
}

// headingPath folds the headings above line into the nearest-enclosing
// path: push each heading after popping every entry of equal or deeper
// level, so the innermost survivor per level remains, outermost first.
func headingPath(headings []heading, line int) []models.Heading {
	var stack []heading
	for _, h := range headings {
		if h.line > line {
			break
		}
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
	}
	if len(stack) == 0 {
		return nil
	}
	path := make([]models.Heading, len(stack))
	for i, h := range stack {
		path[i] = models.Heading{Text: h.text, Level: h.level}
	}
	return path
}

// stripQuote removes the leading quote marker and one following space.
func stripQuote(line string) string {
	s := line[1:]
	if strings.HasPrefix(s, " ") {
		s = s[1:]
	}
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// joinBody trims leading and trailing separator lines; interior blanks
// stay as paragraph separators.
func joinBody(body []string) string {
	start, end := 0, len(body)
	for start < end && body[start] == "" {
		start++
	}
	for end > start && body[end-1] == "" {
		end--
	}
	return strings.Join(body[start:end], "\n")
}

// extractID pulls a trailing ^token marker out of the body. The first
// line carrying one wins; the marker is stripped, and a line left empty
// by stripping is dropped.
func extractID(body string) (string, string) {
	if body == "" || !strings.Contains(body, "^") {
		return "", body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		m := idRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id := m[2]
		rest := strings.TrimRight(line[:len(line)-len(m[0])], " \t")
		if rest == "" {
			lines = append(lines[:i], lines[i+1:]...)
		} else {
			lines[i] = rest
		}
		return id, strings.Join(lines, "\n")
	}
	return "", body
}

// extractOutlinks scans the body for [[Doc#^id|label]] references. The
// scan is manually advanced with an iteration cap so a zero-width or
// pathological match cannot stall the parser; on hitting the cap the
// links found so far are returned.
func extractOutlinks(body string) []models.Outlink {
	if !strings.Contains(body, "[[") {
		return nil
	}
	var out []models.Outlink
	pos := 0
	for iter := 0; iter < maxScanIterations && pos < len(body); iter++ {
		loc := outlinkRe.FindStringSubmatchIndex(body[pos:])
		if loc == nil {
			break
		}
		group := func(n int) string {
			if loc[2*n] < 0 {
				return ""
			}
			return body[pos+loc[2*n] : pos+loc[2*n+1]]
		}
		out = append(out, models.Outlink{
			TargetPath: normalizeTarget(group(1)),
			TargetID:   group(2),
			Label:      strings.TrimSpace(group(3)),
		})
		if loc[1] == loc[0] {
			pos++
		} else {
			pos += loc[1]
		}
	}
	return out
}

// normalizeTarget appends the canonical extension when the reference
// omits it.
func normalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return target
	}
	if !strings.HasSuffix(target, ".md") {
		target += ".md"
	}
	return target
}
