package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProgram = `format: "1.0"
methods:
  - class: LT;
    name: ok
    signature: (I)I
    static: true
    code: |
      iload_0
      ireturn
  - class: LT;
    name: bad
    signature: ()I
    static: true
    code: |
      ireturn
`

func writeProgram(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProgram), 0o600))
	return path
}

func TestVerifyFiles_Text(t *testing.T) {
	path := writeProgram(t)

	var out bytes.Buffer
	failed, err := verifyFiles(t.Context(), &out, &Config{Files: []string{path}, Verbose: true, Types: true})
	require.NoError(t, err)
	assert.True(t, failed)

	expected := path + ": LT;.ok(I)I: ok\n" +
		"     0  [] [I]\n" +
		path + ": LT;.bad()I: FAILED Stack underflow at offset 0\n" +
		"    Offset 0: [], []\n" +
		"     0  [] []\n"
	assert.Equal(t, expected, out.String())
}

func TestVerifyFiles_JSON(t *testing.T) {
	path := writeProgram(t)

	var out bytes.Buffer
	failed, err := verifyFiles(t.Context(), &out, &Config{Files: []string{path}, JSON: true})
	require.NoError(t, err)
	assert.True(t, failed)

	var report jOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Files, 1)
	f := report.Files[0]
	assert.Equal(t, path, f.Path)
	assert.Equal(t, 2, f.Stats.Methods)
	assert.Equal(t, 1, f.Stats.Failed)
	require.Len(t, f.Methods, 2)
	assert.True(t, f.Methods[0].OK)
	assert.False(t, f.Methods[1].OK)
	assert.Equal(t, "Stack underflow", f.Methods[1].Reason)
	require.NotNil(t, f.Methods[1].Offset)
	assert.Equal(t, 0, *f.Methods[1].Offset)
}

func TestVerifyFiles_MissingFile(t *testing.T) {
	var out bytes.Buffer
	_, err := verifyFiles(t.Context(), &out, &Config{Files: []string{filepath.Join(t.TempDir(), "none.yaml")}})
	assert.Error(t, err)
	assert.Empty(t, out.String())
}
