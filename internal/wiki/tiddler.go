// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package wiki

import (
	"encoding/json"
	"strings"
)

// Tiddler is one named, versioned content unit in the wiki. Title is the
// sole identity. Text is empty on snapshots returned by List; Modified
// and Created are opaque, lexically comparable TiddlyWiki timestamps and
// may be absent. Fields carries any extra named fields the wiki attaches
// beyond the modeled ones.
type Tiddler struct {
	Title    string
	Text     string
	Created  string
	Modified string
	Type     string
	Tags     []string
	Fields   map[string]string
}

// knownField reports whether a JSON key maps to a modeled Tiddler field.
func knownField(key string) bool {
	switch key {
	case "title", "text", "created", "modified", "type", "tags":
		return true
	}
	return false
}

// UnmarshalJSON decodes the TiddlyWeb JSON representation. Tags arrive
// either as a JSON array or as a TiddlyWiki tag string ("one [[two
// words]]"); unknown keys land in Fields.
func (t *Tiddler) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	str := func(key string) string {
		var s string
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, &s)
		}
		return s
	}

	t.Title = str("title")
	t.Text = str("text")
	t.Created = str("created")
	t.Modified = str("modified")
	t.Type = str("type")

	if v, ok := raw["tags"]; ok {
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			t.Tags = arr
		} else {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				t.Tags = ParseTagString(s)
			}
		}
	}

	// TiddlyWeb nests custom fields under "fields"; some responses also
	// inline them at the top level. Accept both.
	if v, ok := raw["fields"]; ok {
		var fields map[string]string
		if err := json.Unmarshal(v, &fields); err == nil && len(fields) > 0 {
			t.Fields = fields
		}
	}
	for key, v := range raw {
		if knownField(key) || key == "fields" || key == "revision" || key == "bag" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if t.Fields == nil {
			t.Fields = make(map[string]string)
		}
		if _, exists := t.Fields[key]; !exists {
			t.Fields[key] = s
		}
	}

	return nil
}

// ParseTagString splits a TiddlyWiki tag string into individual tags.
// Multi-word tags are wrapped in double brackets: `alpha [[beta gamma]]`.
func ParseTagString(s string) []string {
	var tags []string
	s = strings.TrimSpace(s)
	for s != "" {
		if strings.HasPrefix(s, "[[") {
			end := strings.Index(s, "]]")
			if end < 0 {
				tags = append(tags, strings.TrimPrefix(s, "[["))
				break
			}
			tags = append(tags, s[2:end])
			s = strings.TrimSpace(s[end+2:])
			continue
		}
		next := strings.IndexByte(s, ' ')
		if next < 0 {
			tags = append(tags, s)
			break
		}
		tags = append(tags, s[:next])
		s = strings.TrimSpace(s[next+1:])
	}
	return tags
}
