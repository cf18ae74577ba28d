package notebook_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-nbif/internal/notebook"
)

const sampleNotebook = `{
 "nbformat": 4,
 "nbformat_minor": 5,
 "metadata": {"kernelspec": {"name": "python3"}},
 "cells": [
  {"cell_type": "markdown", "metadata": {"id": "view-in-github"}, "source": ["# Title\n", "intro"]},
  {"cell_type": "code", "metadata": {}, "execution_count": 1, "source": "print(1)",
   "outputs": [
    {"output_type": "display_data", "metadata": {},
     "data": {"text/plain": ["<Figure>"], "image/png": "iVBORw0KGgo=", "application/json": {"a": 1}}},
    {"output_type": "stream", "name": "stdout", "text": ["1\n"]}
   ]}
 ]
}`

func TestParseDecodesMultilineSourcesAndOrderedBundles(t *testing.T) {
	nb, err := notebook.Parse([]byte(sampleNotebook))
	require.NoError(t, err)
	require.Len(t, nb.Cells, 2)

	md := nb.Cells[0]
	require.Equal(t, notebook.CellMarkdown, md.CellType)
	require.Equal(t, "# Title\nintro", md.Source.String())
	require.Equal(t, "view-in-github", md.MetadataString("id"))

	code := nb.Cells[1]
	require.Len(t, code.Outputs, 2)
	bundle := code.Outputs[0].Data
	require.Len(t, bundle, 3)
	require.Equal(t, "text/plain", bundle[0].MimeType)
	require.Equal(t, "image/png", bundle[1].MimeType)
	require.Equal(t, "application/json", bundle[2].MimeType)
	require.JSONEq(t, `{"a": 1}`, bundle[2].Value)

	require.Equal(t, "iVBORw0KGgo=", bundle[1].Value)
	require.Equal(t, "1\n", code.Outputs[1].Text.String())
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	_, err := notebook.Parse([]byte(`{"nbformat": 3, "nbformat_minor": 0, "metadata": {}, "cells": []}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, notebook.ErrInvalidNotebook))

	_, err = notebook.Parse([]byte(`{"nbformat": 4, "nbformat_minor": 5, "metadata": {}, "cells": [{"cell_type": "widget", "source": ""}]}`))
	require.ErrorIs(t, err, notebook.ErrInvalidNotebook)

	_, err = notebook.Parse([]byte(`not json`))
	require.ErrorIs(t, err, notebook.ErrInvalidNotebook)
}

func TestEncodeWritesJupyterLayout(t *testing.T) {
	nb := &notebook.Notebook{
		NBFormat:      4,
		NBFormatMinor: 5,
		Cells: []notebook.Cell{
			{ID: "a1", CellType: notebook.CellMarkdown, Source: "# Intro"},
			{ID: "b2", CellType: notebook.CellCode, Source: "x := 1\ny := 2"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, notebook.Encode(&buf, nb))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	cells := decoded["cells"].([]any)

	markdown := cells[0].(map[string]any)
	require.NotContains(t, markdown, "outputs")
	require.Equal(t, []any{"# Intro"}, markdown["source"])

	code := cells[1].(map[string]any)
	require.Equal(t, []any{"x := 1\n", "y := 2"}, code["source"])
	require.Equal(t, []any{}, code["outputs"])
	require.Contains(t, code, "execution_count")
	require.Nil(t, code["execution_count"])

	reparsed, err := notebook.Parse(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "x := 1\ny := 2", reparsed.Cells[1].Source.String())
}

func TestWriteFileAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ipynb")
	nb := &notebook.Notebook{NBFormat: 4, NBFormatMinor: 5, Cells: []notebook.Cell{{CellType: notebook.CellMarkdown, Source: "hi"}}}
	require.NoError(t, notebook.WriteFile(path, nb))

	loaded, err := notebook.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, loaded.Cells, 1)
	require.Equal(t, "hi", loaded.Cells[0].Source.String())
}

func TestSplitLinesKeepsNewlines(t *testing.T) {
	require.Equal(t, []string{"a\n", "\n", "b"}, notebook.SplitLines("a\n\nb"))
	require.Equal(t, []string{}, notebook.SplitLines(""))
}
