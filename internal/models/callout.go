// Package models defines the domain types for Othala.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the canonical second-precision timestamp format used in
// callout records and the cache file. It is locale-independent and sorts
// lexicographically.
const TimeLayout = "2006-01-02 15:04:05"

// TimeString is a timestamp stored as a TimeLayout string. Older cache
// files stored epoch numbers; UnmarshalJSON upgrades those in place.
type TimeString string

// NewTimeString formats t in the canonical layout.
func NewTimeString(t time.Time) TimeString {
	return TimeString(t.Format(TimeLayout))
}

// Time parses the timestamp. A zero value is returned for empty or
// malformed strings.
func (ts TimeString) Time() time.Time {
	t, err := time.ParseInLocation(TimeLayout, string(ts), time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UnmarshalJSON accepts either the canonical string form or a legacy
// numeric epoch. Values at or above 1e12 are taken as milliseconds,
// smaller ones as seconds.
func (ts *TimeString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) == 0 {
		return fmt.Errorf("models: empty timestamp")
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("models: parse timestamp: %w", err)
		}
		*ts = TimeString(str)
		return nil
	}
	epoch, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("models: parse legacy timestamp %q: %w", s, err)
	}
	sec := int64(epoch)
	if epoch >= 1e12 {
		sec = int64(epoch / 1000)
	}
	*ts = NewTimeString(time.Unix(sec, 0))
	return nil
}

// Callout is one extracted callout block.
type Callout struct {
	Path         string     `json:"path"`
	Type         string     `json:"type"`
	Title        string     `json:"title,omitempty"`
	Body         string     `json:"body,omitempty"`
	ID           string     `json:"id,omitempty"`
	Line         int        `json:"line"`
	Headings     []Heading  `json:"headings,omitempty"`
	Outlinks     []Outlink  `json:"outlinks,omitempty"`
	FileMtime    TimeString `json:"file_mtime"`
	Created      TimeString `json:"created_time"`
	Modified     TimeString `json:"modified_time"`
	CanvasWidth  int        `json:"canvas_width,omitempty"`
	CanvasHeight int        `json:"canvas_height,omitempty"`
}

// Ref locates an identified callout within the vault.
func (c Callout) Ref() Ref {
	return Ref{Path: c.Path, ID: c.ID}
}

// ContentEqual reports whether two callouts carry the same type, title and
// body. Line numbers, headings and timestamps are not content.
func (c Callout) ContentEqual(o Callout) bool {
	return c.Type == o.Type && c.Title == o.Title && c.Body == o.Body
}

// DisplayName is the title, falling back to the type tag.
func (c Callout) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Type
}

// Clone returns a deep copy. Callers holding clones can mutate them
// without affecting index snapshots.
func (c Callout) Clone() Callout {
	out := c
	if c.Headings != nil {
		out.Headings = make([]Heading, len(c.Headings))
		copy(out.Headings, c.Headings)
	}
	if c.Outlinks != nil {
		out.Outlinks = make([]Outlink, len(c.Outlinks))
		copy(out.Outlinks, c.Outlinks)
	}
	return out
}

// Heading is one level of the enclosing heading path, innermost last.
// Levels along a path are strictly increasing.
type Heading struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
}

// Outlink is a reference from a callout body to an identified callout in
// another (or the same) document.
type Outlink struct {
	TargetPath string `json:"target_path"`
	TargetID   string `json:"target_id"`
	Label      string `json:"label,omitempty"`
}

// Ref is the stable address of an identified callout.
type Ref struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return r.Path + "#^" + r.ID
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Path == "" && r.ID == ""
}

// DocInfo identifies a vault document and its last modification time, as
// reported by the document store during enumeration.
type DocInfo struct {
	Path  string    `json:"path"`
	Mtime time.Time `json:"mtime"`
}

// builtinTypes is the set of callout type tags with a fixed presentation.
// Unknown tags are valid custom types.
var builtinTypes = map[string]struct{}{
	"note": {}, "abstract": {}, "summary": {}, "tldr": {}, "info": {},
	"todo": {}, "tip": {}, "hint": {}, "important": {}, "success": {},
	"check": {}, "done": {}, "question": {}, "help": {}, "faq": {},
	"warning": {}, "caution": {}, "attention": {}, "failure": {},
	"fail": {}, "missing": {}, "danger": {}, "error": {}, "bug": {},
	"example": {}, "quote": {}, "cite": {},
}

// IsBuiltinType reports whether tag is one of the built-in callout types.
// The tag must already be lowercase.
func IsBuiltinType(tag string) bool {
	_, ok := builtinTypes[tag]
	return ok
}
