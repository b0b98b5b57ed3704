package parser

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"gopkg.in/yaml.v3"
)

// Frontmatter holds the recognized YAML keys of a note. Unknown keys land in Extra.
// Decoding is lenient: a key with the wrong shape is skipped and reported in Warnings.
type Frontmatter struct {
	Title       string
	Date        *time.Time
	Tags        []string
	TodoExclude bool
	Links       []FrontmatterLink
	Extra       map[string]any
	Warnings    []string
}

// FrontmatterLink is one entry of the `links:` key. Both the plain string form
// and the object form ({path, title}) are accepted.
type FrontmatterLink struct {
	Target string
	Title  string
}

// UnmarshalYAML decodes field by field so one malformed key does not discard the rest.
func (f *Frontmatter) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		f.warn("frontmatter is not a mapping")
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := strings.ToLower(strings.TrimSpace(node.Content[i].Value))
		val := node.Content[i+1]
		switch key {
		case "title":
			if val.Kind != yaml.ScalarNode {
				f.warn("title: expected a string")
				continue
			}
			f.Title = strings.TrimSpace(val.Value)
		case "date":
			t, err := decodeDate(val)
			if err != nil {
				f.warn("date: %v", err)
				continue
			}
			f.Date = &t
		case "tags":
			tags, err := decodeTags(val)
			if err != nil {
				f.warn("tags: %v", err)
				continue
			}
			f.Tags = tags
		case "todo_exclude":
			var b bool
			if err := val.Decode(&b); err != nil {
				f.warn("todo_exclude: expected a boolean")
				continue
			}
			f.TodoExclude = b
		case "links":
			links, err := decodeLinks(val)
			if err != nil {
				f.warn("links: %v", err)
			}
			f.Links = links
		default:
			var v any
			if err := val.Decode(&v); err != nil {
				f.warn("%s: %v", key, err)
				continue
			}
			if f.Extra == nil {
				f.Extra = make(map[string]any)
			}
			f.Extra[key] = v
		}
	}
	return nil
}

func (f *Frontmatter) warn(format string, args ...any) {
	f.Warnings = append(f.Warnings, "frontmatter: "+fmt.Sprintf(format, args...))
}

func decodeDate(n *yaml.Node) (time.Time, error) {
	if n.Kind != yaml.ScalarNode || strings.TrimSpace(n.Value) == "" {
		return time.Time{}, fmt.Errorf("expected a date")
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, n.Value, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := dateparse.ParseIn(n.Value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", n.Value)
	}
	return t, nil
}

func decodeTags(n *yaml.Node) ([]string, error) {
	var raw []string
	switch n.Kind {
	case yaml.ScalarNode:
		// "tags: a, b" or "tags: a b"
		raw = strings.FieldsFunc(n.Value, func(r rune) bool { return r == ',' || r == ' ' })
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("expected a list of strings")
			}
			raw = append(raw, item.Value)
		}
	default:
		return nil, fmt.Errorf("expected a list of strings")
	}
	return NormalizeTags(raw), nil
}

func decodeLinks(n *yaml.Node) ([]FrontmatterLink, error) {
	if n.Kind == yaml.ScalarNode {
		if v := strings.TrimSpace(n.Value); v != "" {
			return []FrontmatterLink{{Target: v}}, nil
		}
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list")
	}
	var out []FrontmatterLink
	var bad int
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, FrontmatterLink{Target: v})
			}
		case yaml.MappingNode:
			var obj struct {
				Path   string `yaml:"path"`
				Target string `yaml:"target"`
				URL    string `yaml:"url"`
				Title  string `yaml:"title"`
			}
			if err := item.Decode(&obj); err != nil {
				bad++
				continue
			}
			target := firstNonEmpty(obj.Path, obj.Target, obj.URL)
			if target == "" {
				bad++
				continue
			}
			out = append(out, FrontmatterLink{Target: strings.TrimSpace(target), Title: obj.Title})
		default:
			bad++
		}
	}
	if bad > 0 {
		return out, fmt.Errorf("%d unrecognized entries skipped", bad)
	}
	return out, nil
}

// NormalizeTags lowercases, strips a leading '#', drops empties, dedupes and sorts.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
