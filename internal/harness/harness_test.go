package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testdataRoot = "../../testdata"

// TestAll verifies every program under testdata against its expected.yaml.
func TestAll(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(testdataRoot, "*", "expected.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no test cases under %s", testdataRoot)

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	h := NewHarness(testdataRoot)
	for _, path := range paths {
		tc := LoadTestCase(t, testdataRoot, path)
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()
			if tc.Description != "" {
				t.Log(tc.Description)
			}

			result := h.Run(t, tc)
			if !result.Success {
				t.Errorf("%s", result.Message)
			}
		})
	}
}

func TestLoadTestCase_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expected.yaml")
	require.NoError(t, os.WriteFile(path, []byte("configurations: []\nbuild_tags: [x]\n"), 0o600))

	_, err := decodeTestCase(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "build_tags")
}
