package markup

import (
	"regexp"
	"strings"
)

// BlockKind distinguishes the regions of a markup document.
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockHeading
	BlockQuestion
)

// Block is one region of a markup document, in document order.
type Block struct {
	Kind BlockKind
	// Text holds plain text for BlockText and the title for BlockHeading.
	Text     string
	Level    int
	Question *Question
}

type scanMode int

const (
	modeText scanMode = iota
	modeQuestion
)

var headingTagPattern = regexp.MustCompile(`^<(section|subsection|subsubsection)>(.*?)</(section|subsection|subsubsection)>(.*)$`)

const closeQuestionTag = "</question>"

// Parse splits markup text into text, heading and question blocks in a
// single pass over its lines. Unnamed questions receive placeholder names
// (see AssignNames). A question left open at end of input is closed there.
func Parse(src string) []Block {
	src = strings.ReplaceAll(src, "\r\n", "\n")

	var (
		blocks    []Block
		questions []*Question
		pending   strings.Builder
		tag       strings.Builder
		mode      = modeText
	)

	flushText := func() {
		if pending.Len() > 0 {
			blocks = append(blocks, Block{Kind: BlockText, Text: pending.String()})
			pending.Reset()
		}
	}
	closeQuestion := func(after string) {
		q := ParseQuestion(tag.String())
		questions = append(questions, q)
		blocks = append(blocks, Block{Kind: BlockQuestion, Question: q})
		tag.Reset()
		mode = modeText
		if strings.TrimSpace(after) != "" {
			pending.WriteString(after)
			pending.WriteByte('\n')
		}
	}

	lines := strings.Split(src, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	for _, line := range lines {
		switch mode {
		case modeQuestion:
			tag.WriteByte('\n')
			if idx := strings.Index(line, closeQuestionTag); idx >= 0 {
				tag.WriteString(line[:idx+len(closeQuestionTag)])
				closeQuestion(line[idx+len(closeQuestionTag):])
				continue
			}
			tag.WriteString(line)

		case modeText:
			if isQuestionOpen(line) {
				flushText()
				mode = modeQuestion
				if idx := strings.Index(line, closeQuestionTag); idx >= 0 {
					tag.WriteString(line[:idx+len(closeQuestionTag)])
					closeQuestion(line[idx+len(closeQuestionTag):])
					continue
				}
				tag.WriteString(line)
				continue
			}

			if m := headingTagPattern.FindStringSubmatch(line); m != nil && m[1] == m[3] {
				flushText()
				blocks = append(blocks, Block{Kind: BlockHeading, Level: HeadingLevel(m[1]), Text: strings.TrimSpace(m[2])})
				if strings.TrimSpace(m[4]) != "" {
					pending.WriteString(m[4])
					pending.WriteByte('\n')
				}
				continue
			}

			pending.WriteString(line)
			pending.WriteByte('\n')
		}
	}

	if mode == modeQuestion {
		closeQuestion("")
	}
	flushText()

	AssignNames(questions)
	return blocks
}

func isQuestionOpen(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, "<question") {
		return false
	}
	rest := trimmed[len("<question"):]
	return rest == "" || rest[0] == '>' || rest[0] == ' ' || rest[0] == '\t'
}

// Questions returns the question blocks of a parsed document.
func Questions(blocks []Block) []*Question {
	var out []*Question
	for _, b := range blocks {
		if b.Kind == BlockQuestion {
			out = append(out, b.Question)
		}
	}
	return out
}
