package extract

import (
	"regexp"
	"strings"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

var checkboxRe = regexp.MustCompile(`^([ \t]*)(- \[[ x^]\])(?:[ \t]+(.*?))?[ \t]*$`)

// Checkbox is a matched todo line.
type Checkbox struct {
	Indent      int // columns, tab = 4
	Status      models.Status
	Rest        string // text after the marker
	MarkerStart int    // byte offset of the marker in the line
}

// MatchCheckbox reports whether line starts (after leading whitespace) with one of
// the three exact checkbox markers.
func MatchCheckbox(line string) (Checkbox, bool) {
	line = strings.TrimSuffix(line, "\r")
	m := checkboxRe.FindStringSubmatchIndex(line)
	if m == nil {
		return Checkbox{}, false
	}
	marker := line[m[4]:m[5]]
	status, ok := models.StatusFromMarker(marker)
	if !ok {
		return Checkbox{}, false
	}
	var rest string
	if m[6] >= 0 {
		rest = line[m[6]:m[7]]
	}
	return Checkbox{
		Indent:      IndentWidth(line[m[2]:m[3]]),
		Status:      status,
		Rest:        rest,
		MarkerStart: m[4],
	}, true
}

// ReplaceMarker rewrites only the checkbox token of line. The line ending, if any,
// is preserved. It returns false when line is not a checkbox line.
func ReplaceMarker(line string, status models.Status) (string, bool) {
	cb, ok := MatchCheckbox(line)
	if !ok {
		return line, false
	}
	marker := status.Marker()
	return line[:cb.MarkerStart] + marker + line[cb.MarkerStart+len(marker):], true
}

// IndentWidth measures leading whitespace in columns.
func IndentWidth(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}
