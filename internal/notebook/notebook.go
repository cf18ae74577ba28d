package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Cell types understood by the converters.
const (
	CellMarkdown = "markdown"
	CellCode     = "code"
	CellRaw      = "raw"
)

// Output types emitted by Jupyter kernels.
const (
	OutputDisplayData   = "display_data"
	OutputExecuteResult = "execute_result"
	OutputStream        = "stream"
	OutputError         = "error"
)

// Notebook is an nbformat v4 document.
type Notebook struct {
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
	Metadata      map[string]any `json:"metadata"`
	Cells         []Cell         `json:"cells"`
}

// Cell is a single notebook cell. Outputs and ExecutionCount are only
// serialised for code cells.
type Cell struct {
	ID             string          `json:"id,omitempty"`
	CellType       string          `json:"cell_type"`
	Metadata       map[string]any  `json:"metadata"`
	Source         MultilineString `json:"source"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	Outputs        []Output        `json:"outputs,omitempty"`
}

// MetadataString returns a string metadata entry, or "" when absent.
func (c Cell) MetadataString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MarshalJSON keeps the code-cell only fields off markdown cells, and always
// writes outputs/execution_count on code cells as nbformat requires.
func (c Cell) MarshalJSON() ([]byte, error) {
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if c.CellType != CellCode {
		type textCell struct {
			ID       string          `json:"id,omitempty"`
			CellType string          `json:"cell_type"`
			Metadata map[string]any  `json:"metadata"`
			Source   MultilineString `json:"source"`
		}
		return json.Marshal(textCell{ID: c.ID, CellType: c.CellType, Metadata: metadata, Source: c.Source})
	}

	type codeCell struct {
		ID             string          `json:"id,omitempty"`
		CellType       string          `json:"cell_type"`
		Metadata       map[string]any  `json:"metadata"`
		Source         MultilineString `json:"source"`
		ExecutionCount *int            `json:"execution_count"`
		Outputs        []Output        `json:"outputs"`
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []Output{}
	}
	return json.Marshal(codeCell{
		ID:             c.ID,
		CellType:       c.CellType,
		Metadata:       metadata,
		Source:         c.Source,
		ExecutionCount: c.ExecutionCount,
		Outputs:        outputs,
	})
}

// Output is one code-cell output record.
type Output struct {
	OutputType     string          `json:"output_type"`
	Name           string          `json:"name,omitempty"`
	Text           MultilineString `json:"text,omitempty"`
	Data           MimeBundle      `json:"data,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	EName          string          `json:"ename,omitempty"`
	EValue         string          `json:"evalue,omitempty"`
}

// MultilineString is the nbformat "string or list of strings" value.
type MultilineString string

// UnmarshalJSON accepts both encodings.
func (m *MultilineString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = ""
		return nil
	}
	if data[0] == '[' {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*m = MultilineString(strings.Join(parts, ""))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = MultilineString(s)
	return nil
}

// MarshalJSON writes the list-of-lines form Jupyter itself produces.
func (m MultilineString) MarshalJSON() ([]byte, error) {
	return json.Marshal(SplitLines(string(m)))
}

func (m MultilineString) String() string {
	return string(m)
}

// SplitLines splits s into lines that keep their trailing newline.
func SplitLines(s string) []string {
	lines := []string{}
	for s != "" {
		idx := strings.IndexByte(s, '\n')
		if idx < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:idx+1])
		s = s[idx+1:]
	}
	return lines
}

// MimeEntry is a single MIME type and its payload.
type MimeEntry struct {
	MimeType string
	Value    string
}

// MimeBundle is the ordered output "data" mapping. The order found in the
// file is kept so that generated asset names stay stable.
type MimeBundle []MimeEntry

// UnmarshalJSON decodes the object token by token to keep key order.
func (b *MimeBundle) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*b = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mime bundle: expected object, got %v", tok)
	}

	bundle := MimeBundle{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("mime bundle: unexpected key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("mime bundle %s: %w", key, err)
		}
		value, err := decodeMimeValue(raw)
		if err != nil {
			return fmt.Errorf("mime bundle %s: %w", key, err)
		}
		bundle = append(bundle, MimeEntry{MimeType: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*b = bundle
	return nil
}

// MarshalJSON writes the bundle as an object in entry order.
func (b MimeBundle) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.MimeType)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var value []byte
		if strings.HasSuffix(entry.MimeType, "json") && json.Valid([]byte(entry.Value)) {
			value = []byte(entry.Value)
		} else {
			value, err = json.Marshal(SplitLines(entry.Value))
			if err != nil {
				return nil, err
			}
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeMimeValue flattens string, list-of-strings, and JSON payloads
// (application/json outputs) into text.
func decodeMimeValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}
	switch trimmed[0] {
	case '"', '[':
		var ms MultilineString
		if err := ms.UnmarshalJSON(trimmed); err == nil {
			return string(ms), nil
		}
	}
	return string(trimmed), nil
}
