// Package content adapts the rich-text widget's document representation: an
// ordered list of delta operations with a plain-text projection and an HTML
// rendering.
package content

import "encoding/json"

// Op is a single delta operation. Documents stored by the widget only carry
// inserts; retain and delete appear in change deltas and are kept so a
// round-trip never drops data.
type Op struct {
	Insert     any            `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Delta is the canonical, re-editable content of a document.
type Delta struct {
	Ops []Op `json:"ops"`
}

// Empty returns a delta with no operations.
func Empty() Delta {
	return Delta{Ops: []Op{}}
}

// Text returns the string insert carried by the op, if any.
func (o Op) Text() (string, bool) {
	s, ok := o.Insert.(string)
	return s, ok
}

// Embed returns the embed insert (image, video, formula) carried by the op.
func (o Op) Embed() (map[string]any, bool) {
	m, ok := o.Insert.(map[string]any)
	return m, ok
}

// Clone returns a deep copy so callers can hand deltas across ownership
// boundaries without sharing attribute maps.
func (d Delta) Clone() Delta {
	if d.Ops == nil {
		return Empty()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return Empty()
	}
	var out Delta
	if err := json.Unmarshal(raw, &out); err != nil {
		return Empty()
	}
	if out.Ops == nil {
		out.Ops = []Op{}
	}
	return out
}

// Parse decodes a delta from either the widget's {"ops": [...]} envelope or a
// bare op array.
func Parse(raw []byte) (Delta, error) {
	var d Delta
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &d.Ops); err != nil {
			return Delta{}, err
		}
	} else if err := json.Unmarshal(raw, &d); err != nil {
		return Delta{}, err
	}
	if d.Ops == nil {
		d.Ops = []Op{}
	}
	return d, nil
}

func attrString(attrs map[string]any, key string) string {
	v, _ := attrs[key].(string)
	return v
}

func attrBool(attrs map[string]any, key string) bool {
	switch v := attrs[key].(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return false
	}
}

func attrInt(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
