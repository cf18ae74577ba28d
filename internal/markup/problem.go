package markup

import (
	"errors"
	"fmt"
	"strings"
)

// ProblemSentinel marks a notebook code cell as a pythoncode problem.
const ProblemSentinel = "#csq_pythoncode"

// Problem slots, recognised in cell text as "#<slot>" line prefixes.
const (
	SlotPrompt     = "csq_prompt"
	SlotName       = "csq_name"
	SlotInitial    = "csq_initial"
	SlotSolution   = "csq_soln"
	SlotTests      = "csq_tests"
	SlotSubmission = "csq_submission"
)

// SandboxOptions is the fixed sandbox assignment written into every block.
const SandboxOptions = "csq_sandbox_options = {'do_rlimits': False}"

// ErrMissingParameter is returned when a required slot has no content.
var ErrMissingParameter = errors.New("missing required problem parameter")

var (
	problemSlots   = []string{SlotPrompt, SlotName, SlotInitial, SlotSolution, SlotTests, SlotSubmission}
	requiredSlots  = []string{SlotInitial, SlotSolution, SlotTests}
	emittedStrings = []string{SlotPrompt, SlotInitial, SlotSolution}
)

// ProblemParameters maps slot names to accumulated text.
type ProblemParameters map[string]string

// ParseProblemParameters scans cell text line by line. A line starting with
// "#<slot>" switches the accumulation slot; every following line, newline
// included, is appended to that slot until the next marker. Lines before
// the first marker are ignored.
func ParseProblemParameters(cellText string) ProblemParameters {
	params := make(ProblemParameters, len(problemSlots))
	for _, slot := range problemSlots {
		params[slot] = ""
	}

	mode := ""
	for _, line := range strings.Split(cellText, "\n") {
		if slot, ok := markerSlot(line); ok {
			mode = slot
			continue
		}
		if mode != "" {
			params[mode] += line + "\n"
		}
	}
	return params
}

func markerSlot(line string) (string, bool) {
	for _, slot := range problemSlots {
		if strings.HasPrefix(line, "#"+slot) {
			return slot, true
		}
	}
	return "", false
}

// Validate reports the first required slot that is empty.
func (p ProblemParameters) Validate() error {
	for _, slot := range requiredSlots {
		if strings.TrimSpace(p[slot]) == "" {
			return fmt.Errorf("%w: %s undefined", ErrMissingParameter, slot)
		}
	}
	return nil
}

// RenderProblem expands a pythoncode cell into a question block.
func RenderProblem(cellText string) (string, error) {
	params := ParseProblemParameters(cellText)
	if err := params.Validate(); err != nil {
		return "", err
	}
	return params.Render(), nil
}

// Render writes the question block for validated parameters.
func (p ProblemParameters) Render() string {
	lines := []string{"", "<question pythoncode>"}
	if name := strings.TrimSpace(p[SlotName]); name != "" {
		lines = append(lines, SlotName+" = "+name)
	}
	for _, slot := range emittedStrings {
		lines = append(lines, slot+` ="""`+escapeTripleQuotes(p[slot])+`"""`)
	}
	lines = append(lines,
		SlotTests+" = "+p[SlotTests],
		"\n",
		SandboxOptions+"\n",
		"</question>\n\n",
	)
	return strings.Join(lines, "\n")
}

func escapeTripleQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"""`, `\"\"\"`)
}
