// Package harness provides test harness infrastructure for validating the
// verifier against program files in testdata.
package harness

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing program.yaml.
	Dir string `yaml:"-"`

	// Description says what the case covers.
	Description string `yaml:"description,omitempty"`

	// Configurations defines the checker settings to run the program under.
	Configurations []Configuration `yaml:"configurations"`
}

// Configuration represents a single checker configuration to test.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Strict rejects operands whose subtype relation cannot be proven.
	Strict bool `yaml:"strict,omitempty"`

	// All records types at every instruction.
	All bool `yaml:"all,omitempty"`

	// Expected lists the outcome of every method in the program.
	Expected []ExpectedMethod `yaml:"expected"`

	// ExpectedErrors lists error messages, one of which the checker must
	// return instead of results.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`
}

// ExpectedMethod is the expected outcome of verifying one method.
type ExpectedMethod struct {
	// Method is the method ID, such as "LFoo;.bar(I)V".
	Method string `yaml:"method"`

	// Reason is the expected failure reason; empty means the method verifies.
	Reason string `yaml:"reason,omitempty"`

	// Offset is the instruction the failure is reported at.
	Offset int `yaml:"offset,omitempty"`

	// Suppressed marks a failure silenced by a directive.
	Suppressed bool `yaml:"suppressed,omitempty"`

	// Stacks optionally pins the stack types at given instructions.
	Stacks map[int][]string `yaml:"stacks,omitempty"`

	// Locals optionally pins the local variable types at given instructions.
	Locals map[int][]string `yaml:"locals,omitempty"`
}
