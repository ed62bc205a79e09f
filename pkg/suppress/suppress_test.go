package suppress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuppressionChecker_NewChecker(t *testing.T) {
	checker := NewChecker()

	require.NotNil(t, checker, "NewChecker returned nil")
	require.NotNil(t, checker.suppressions, "Expected suppressions map to be initialized")
}

func TestSuppressionChecker_ParseComment(t *testing.T) {
	tests := []struct {
		name           string
		line           string
		expectedType   SuppressionType
		expectedReason string
		expectParsed   bool
	}{
		{
			name:         "nolint basic",
			line:         "iload_0 //nolint:bcverify",
			expectedType: SuppressionNolint,
			expectParsed: true,
		},
		{
			name:           "nolint with reason",
			line:           "//nolint:bcverify // generated by an obfuscator",
			expectedType:   SuppressionNolint,
			expectedReason: "generated by an obfuscator",
			expectParsed:   true,
		},
		{
			name:           "lint ignore",
			line:           "areturn // lint:ignore bcverify field type is erased",
			expectedType:   SuppressionLintIgnore,
			expectedReason: "field type is erased",
			expectParsed:   true,
		},
		{
			name:         "generic nolint",
			line:         "//nolint",
			expectedType: SuppressionNolint,
			expectParsed: true,
		},
		{
			name:           "multiple rules",
			line:           "//nolint:other,bcverify // both",
			expectedType:   SuppressionNolint,
			expectedReason: "both",
			expectParsed:   true,
		},
		{
			name: "other linter",
			line: "//nolint:deadcode",
		},
		{
			name: "plain comment",
			line: "iadd // counter",
		},
		{
			name: "directive inside string operand",
			line: `ldc "//nolint:bcverify"`,
		},
		{
			name: "no comment",
			line: "return",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parseComment(3, tt.line)
			if !tt.expectParsed {
				assert.Nil(t, s)
				return
			}
			require.NotNil(t, s)
			assert.Equal(t, 3, s.Line)
			assert.Equal(t, tt.expectedType, s.Type)
			assert.Equal(t, tt.expectedReason, s.Reason)
		})
	}
}

func TestSuppressionChecker_Load(t *testing.T) {
	src := []string{
		"iload_0",
		"//lint:ignore bcverify legacy compiler output",
		"ifeq done",
		"fconst_0 //nolint:bcverify",
		"ireturn",
		"done: iconst_0",
		"ireturn",
	}
	lines := []int{1, 3, 4, 5, 6, 7}

	checker := NewChecker()
	require.NoError(t, checker.Load(src, lines))

	suppressed, reason := checker.IsSuppressed(1)
	assert.True(t, suppressed)
	assert.Equal(t, "legacy compiler output", reason)

	suppressed, reason = checker.IsSuppressed(2)
	assert.True(t, suppressed)
	assert.Equal(t, "suppressed", reason)

	for _, idx := range []int{0, 3, 4, 5} {
		suppressed, _ := checker.IsSuppressed(idx)
		assert.False(t, suppressed, "instruction %d", idx)
	}
	assert.Len(t, checker.All(), 2)

	checker.Clear()
	assert.Empty(t, checker.All())
}

func TestSuppressionChecker_EdgeCases(t *testing.T) {
	checker := NewChecker()
	assert.Error(t, checker.Load([]string{"return"}, nil))
	require.NoError(t, checker.Load(nil, []int{}))

	suppressed, reason := checker.IsSuppressed(-1)
	assert.False(t, suppressed)
	assert.Empty(t, reason)
}
