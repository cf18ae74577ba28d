package notebook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidNotebook indicates the document failed schema validation.
var ErrInvalidNotebook = errors.New("invalid notebook document")

const schemaURL = "nbformat.v4.schema.json"

//go:embed schema/nbformat.v4.schema.json
var schemaSource []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
			schemaErr = fmt.Errorf("load notebook schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Parse validates data against the nbformat v4 schema and decodes it.
func Parse(data []byte) (*Notebook, error) {
	schema, err := documentSchema()
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotebook, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotebook, err)
	}

	var nb Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotebook, err)
	}
	return &nb, nil
}

// ReadFile loads and validates a notebook from disk.
func ReadFile(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook %s: %w", path, err)
	}
	nb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return nb, nil
}

// Encode writes nb as indented JSON, the layout Jupyter uses on save.
func Encode(w io.Writer, nb *Notebook) error {
	if nb.Metadata == nil {
		nb.Metadata = map[string]any{}
	}
	if nb.Cells == nil {
		nb.Cells = []Cell{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.SetEscapeHTML(false)
	return enc.Encode(nb)
}

// WriteFile encodes nb to path.
func WriteFile(path string, nb *Notebook) error {
	var buf bytes.Buffer
	if err := Encode(&buf, nb); err != nil {
		return fmt.Errorf("encode notebook: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write notebook %s: %w", path, err)
	}
	return nil
}
