package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/bcverify/pkg/program"
)

// LoadProgram loads program.yaml from the test case directory.
func LoadProgram(t *testing.T, root string, tc *TestCase) *program.File {
	t.Helper()

	f, err := program.Load(filepath.Join(root, tc.Dir, "program.yaml"))
	require.NoError(t, err, "load program for %s", tc.Dir)
	return f
}

// LoadTestCase reads the expected.yaml at path. The case directory is
// recorded relative to root.
func LoadTestCase(t *testing.T, root, path string) *TestCase {
	t.Helper()

	tc, err := decodeTestCase(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		rel = filepath.Base(dir)
	}
	tc.Dir = rel
	return tc
}

func decodeTestCase(path string) (*TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expectations: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var tc TestCase
	if err := dec.Decode(&tc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &tc, nil
}
