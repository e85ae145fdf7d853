package render

import (
	"errors"
	"fmt"
	"strings"

	"bilisub/pkg/models"
)

// ErrUnknownSlot is wrapped by every UnknownSlotError
var ErrUnknownSlot = errors.New("unknown template slot")

// UnknownSlotError names a {slot} that the template's kind does not define
type UnknownSlotError struct {
	Kind string
	Slot string
}

func (e *UnknownSlotError) Error() string {
	return fmt.Sprintf("%s template: unknown slot {%s}", e.Kind, e.Slot)
}

func (e *UnknownSlotError) Unwrap() error { return ErrUnknownSlot }

// slotFunc extracts one slot value from an item
type slotFunc func(r *Renderer, item models.FeedItem) string

type segment struct {
	literal string
	slot    slotFunc
}

// Template is a parsed message template. Placeholders are written {name};
// braces that do not enclose an identifier are kept literally.
type Template struct {
	kind     string
	raw      string
	segments []segment
}

// Parse compiles raw against the slot table of kind
func Parse(kind, raw string, slots map[string]slotFunc) (*Template, error) {
	t := &Template{kind: kind, raw: raw}
	var lit strings.Builder

	for i := 0; i < len(raw); {
		if raw[i] == '{' {
			if end := strings.IndexByte(raw[i+1:], '}'); end > 0 {
				name := raw[i+1 : i+1+end]
				if isIdent(name) {
					fn, ok := slots[name]
					if !ok {
						return nil, &UnknownSlotError{Kind: kind, Slot: name}
					}
					if lit.Len() > 0 {
						t.segments = append(t.segments, segment{literal: lit.String()})
						lit.Reset()
					}
					t.segments = append(t.segments, segment{slot: fn})
					i += end + 2
					continue
				}
			}
		}
		lit.WriteByte(raw[i])
		i++
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	return t, nil
}

func (t *Template) execute(r *Renderer, item models.FeedItem) string {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.slot != nil {
			b.WriteString(seg.slot(r, item))
			continue
		}
		b.WriteString(seg.literal)
	}
	return b.String()
}

// String returns the source text
func (t *Template) String() string { return t.raw }

func isIdent(s string) bool {
	for _, c := range s {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return s != ""
}
