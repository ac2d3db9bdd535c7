// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", FormatText, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrinter_PlainText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatText)
	assert.False(t, p.Machine())

	p.Title("Plan")
	p.Success("done")
	p.Warning("careful")
	p.Fields([][2]string{{"id", "p1"}, {"mode", "search"}})
	p.Table([]string{"#", "action"}, [][]string{{"1", "build"}})

	out := buf.String()
	// a buffer is not a terminal, so no escape sequences
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "Plan\n")
	assert.Contains(t, out, "✓ done")
	assert.Contains(t, out, "⚠ careful")
	assert.Contains(t, out, "  id    p1")
	assert.Contains(t, out, "#\taction\n1\tbuild\n")
}

func TestPrinter_Document(t *testing.T) {
	doc := map[string]any{"id": "p1", "cost": 4.0}

	var jbuf bytes.Buffer
	p := NewPrinter(&jbuf, FormatJSON)
	p.Success("ignored in machine output")
	require.NoError(t, p.Document(doc))
	var got map[string]any
	require.NoError(t, json.Unmarshal(jbuf.Bytes(), &got))
	assert.Equal(t, "p1", got["id"])

	var ybuf bytes.Buffer
	p = NewPrinter(&ybuf, FormatYAML)
	require.NoError(t, p.Document(doc))
	got = nil
	require.NoError(t, yaml.Unmarshal(ybuf.Bytes(), &got))
	assert.Equal(t, 4, got["cost"])
	assert.NotContains(t, ybuf.String(), "{")

	var tbuf bytes.Buffer
	require.NoError(t, NewPrinter(&tbuf, FormatText).Document(doc))
	assert.Empty(t, strings.TrimSpace(tbuf.String()))
}

func TestIsTerminal_NonFile(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
