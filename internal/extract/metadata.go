package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/dates"
)

var (
	metaRe   = regexp.MustCompile(`@(due|priority)\(([^)]*)\)`)
	tagTokRe = regexp.MustCompile(`(^|\s)#([^\s#]+)`)
	tagRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	hexRe    = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// Metadata is the inline annotation set of one todo line.
type Metadata struct {
	Content  string
	Due      *time.Time
	DueTime  bool
	Priority int
	Tags     []string
	Warnings []string
}

// ParseMetadata pulls @due, @priority and #tags out of text left to right.
// Fragments that fail to parse stay in Content.
func ParseMetadata(text string, now time.Time) Metadata {
	var md Metadata

	content := metaRe.ReplaceAllStringFunc(text, func(frag string) string {
		m := metaRe.FindStringSubmatch(frag)
		switch m[1] {
		case "due":
			if md.Due != nil {
				return frag
			}
			r, err := dates.Resolve(m[2], now)
			if err != nil {
				md.Warnings = append(md.Warnings, "unparseable due date "+frag)
				return frag
			}
			t := r.Time
			md.Due, md.DueTime = &t, r.HasTime
			return ""
		case "priority":
			if md.Priority != 0 {
				return frag
			}
			p, ok := ParsePriority(m[2])
			if !ok {
				md.Warnings = append(md.Warnings, "invalid priority "+frag)
				return frag
			}
			md.Priority = p
			return ""
		}
		return frag
	})

	seen := make(map[string]struct{})
	content = tagTokRe.ReplaceAllStringFunc(content, func(frag string) string {
		m := tagTokRe.FindStringSubmatch(frag)
		tok := strings.TrimRight(m[2], ".,;:!?)")
		if !IsTag(tok) {
			return frag
		}
		tag := strings.ToLower(tok)
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			md.Tags = append(md.Tags, tag)
		}
		return m[1] + m[2][len(tok):]
	})

	md.Content = strings.Join(strings.Fields(content), " ")
	return md
}

// IsTag reports whether tok (without '#') is a tag. Hex colour codes are not tags.
func IsTag(tok string) bool {
	if !tagRe.MatchString(tok) {
		return false
	}
	switch len(tok) {
	case 3, 4, 6, 8:
		return !hexRe.MatchString(tok)
	}
	return true
}

// ParsePriority maps 1|2|3 and the words high|medium|low to 1..3.
func ParsePriority(raw string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "high":
		return 1, true
	case "2", "medium", "med":
		return 2, true
	case "3", "low":
		return 3, true
	}
	return 0, false
}
