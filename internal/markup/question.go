package markup

import (
	"fmt"
	"regexp"
	"strings"
)

// NameKey is the assignment that names a question on its page.
const NameKey = "csq_name"

var (
	openTagPattern   = regexp.MustCompile(`^\s*<question(\s[^>]*)?>`)
	assignPattern    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=(.*)$`)
	bareIdentPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*$`)
)

// Assignment is one `key = value` line (or key line followed by value lines)
// inside a question block.
type Assignment struct {
	Key string
	// Raw is the value text as written.
	Raw string
	// Value is the decoded literal when IsLiteral, otherwise Raw.
	Value     string
	IsLiteral bool
}

// Question is a parsed <question> region.
type Question struct {
	Kind        string
	Name        string
	Named       bool
	Raw         string
	Assignments []Assignment
}

// Get returns the value assigned to key.
func (q *Question) Get(key string) (Assignment, bool) {
	for _, a := range q.Assignments {
		if a.Key == key {
			return a, true
		}
	}
	return Assignment{}, false
}

// ParseQuestion parses a buffered question region, from the opening tag to
// the closing tag inclusive.
func ParseQuestion(raw string) *Question {
	q := &Question{Raw: raw}

	body := raw
	if loc := openTagPattern.FindStringSubmatchIndex(body); loc != nil {
		if loc[2] >= 0 {
			fields := strings.Fields(body[loc[2]:loc[3]])
			if len(fields) > 0 {
				q.Kind = fields[0]
			}
		}
		body = body[loc[1]:]
	}
	if idx := strings.LastIndex(body, "</question>"); idx >= 0 {
		body = body[:idx]
	}

	q.Assignments = parseAssignments(body)
	if a, ok := q.Get(NameKey); ok && a.IsLiteral && strings.TrimSpace(a.Value) != "" {
		q.Name = strings.TrimSpace(a.Value)
		q.Named = true
	}
	return q
}

func parseAssignments(body string) []Assignment {
	var (
		out      []Assignment
		current  *Assignment
		value    []string
		inTriple string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Raw = strings.TrimSpace(strings.Join(value, "\n"))
		if lit, err := ParseStringLiteral(current.Raw); err == nil {
			current.Value = lit
			current.IsLiteral = true
		} else {
			current.Value = current.Raw
		}
		out = append(out, *current)
		current = nil
		value = nil
	}

	for _, line := range strings.Split(body, "\n") {
		if inTriple != "" {
			value = append(value, line)
			if strings.Count(line, inTriple)%2 == 1 {
				inTriple = ""
			}
			continue
		}

		if m := assignPattern.FindStringSubmatch(line); m != nil && !strings.HasPrefix(strings.TrimSpace(m[2]), "=") {
			flush()
			current = &Assignment{Key: m[1]}
			value = []string{m[2]}
			inTriple = openTriple(m[2])
			continue
		}
		// `csq_name` alone on a line, value on the following lines.
		if m := bareIdentPattern.FindStringSubmatch(line); m != nil && (current == nil || hasValue(value)) {
			flush()
			current = &Assignment{Key: m[1]}
			value = nil
			continue
		}
		if current != nil {
			value = append(value, line)
			if t := openTriple(line); t != "" {
				inTriple = t
			}
		}
	}
	flush()
	return out
}

func hasValue(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

// openTriple reports the triple quote left open at the end of s, if any.
func openTriple(s string) string {
	for _, quote := range []string{`"""`, `'''`} {
		if strings.Count(s, quote)%2 == 1 {
			return quote
		}
	}
	return ""
}

// AssignNames gives every unnamed question a sequential placeholder name
// (q000000, q000001, ...) that does not collide with any explicit name on
// the page.
func AssignNames(questions []*Question) {
	used := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if q.Named {
			used[q.Name] = struct{}{}
		}
	}

	counter := 0
	for _, q := range questions {
		if q.Named {
			continue
		}
		for {
			candidate := fmt.Sprintf("q%06d", counter)
			counter++
			if _, taken := used[candidate]; !taken {
				q.Name = candidate
				used[candidate] = struct{}{}
				break
			}
		}
	}
}
