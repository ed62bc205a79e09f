// Package main implements the CLI driver for the bytecode verifier.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/bcverify/pkg/bcverify"
	"github.com/715d/bcverify/pkg/jvmtype"
	"github.com/715d/bcverify/pkg/program"
)

// Config holds all command-line configuration options for the verifier.
type Config struct {
	Files   []string // the program files to verify
	Verbose bool     // enables detailed output and failure paths
	JSON    bool     // enables JSON output format
	All     bool     // record types at every instruction
	Strict  bool     // reject operands whose types cannot be proven
	Types   bool     // print the computed type tables
	Watch   bool     // re-verify files when they change
	Profile bool     // enables CPU and memory profiling
}

const (
	exitFailuresFound = 1
	exitError         = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "bcverify",
		Short: "Type-check JVM method bodies",
		Long: `bcverify runs a type-flow analysis over JVM method bodies and reports
instructions whose operands do not have the types they require.

Programs are YAML files holding a partial class hierarchy and method bodies in
mnemonic form. Missing hierarchy facts are treated optimistically unless
--strict is given.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("bcverify version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	verifyCmd := &cobra.Command{
		Use:   "verify FILE...",
		Short: "Verify every method of the given program files",
		Example: `  bcverify verify program.yaml          # Verify one file
  bcverify verify -v testdata/*/program.yaml
  bcverify verify --types --all p.yaml  # Print types at every instruction
  bcverify verify --json p.yaml > report.json
  bcverify verify --watch p.yaml        # Re-verify on every save`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCommand,
	}
	rootCmd.AddCommand(verifyCmd)

	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	verifyCmd.Flags().BoolVar(&cfg.All, "all", false, "Record types at every instruction, not only at basic block starts")
	verifyCmd.Flags().BoolVar(&cfg.Strict, "strict", false, "Reject operands whose subtype relation cannot be proven")
	verifyCmd.Flags().BoolVar(&cfg.Types, "types", false, "Print the computed stack and local types")
	verifyCmd.Flags().BoolVar(&cfg.Watch, "watch", false, "Re-verify files whenever they change")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg.Files = args
	slog.Info("starting verification", "files", cfg.Files)

	failed, err := verifyFiles(cmd.Context(), os.Stdout, &cfg)
	if err != nil {
		return errWithCode(err, exitError)
	}

	if cfg.Watch {
		return watch(cmd.Context(), os.Stdout, &cfg)
	}
	if failed {
		return errWithCode(nil, exitFailuresFound)
	}
	return nil
}

// FileReport is the verification output for one program file.
type FileReport struct {
	Path    string
	Results []bcverify.Result
	Stats   bcverify.Stats
}

// verifyFiles checks every configured file and writes the report. It reports
// whether any method failed.
func verifyFiles(ctx context.Context, w io.Writer, cfg *Config) (bool, error) {
	checker := bcverify.NewChecker(bcverify.Options{
		Strict:     cfg.Strict,
		CollectAll: cfg.All,
	})

	reports := make([]FileReport, 0, len(cfg.Files))
	failed := false
	for _, path := range cfg.Files {
		r, err := verifyFile(ctx, checker, path)
		if err != nil {
			return false, err
		}
		if r.Stats.Failed > 0 {
			failed = true
		}
		reports = append(reports, *r)
	}

	if err := writeResults(w, reports, cfg); err != nil {
		return false, fmt.Errorf("format results: %w", err)
	}
	return failed, nil
}

func verifyFile(ctx context.Context, checker *bcverify.Checker, path string) (*FileReport, error) {
	f, err := program.Load(path)
	if err != nil {
		return nil, err
	}
	results, err := checker.Check(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", path, err)
	}
	return &FileReport{Path: path, Results: results, Stats: bcverify.Summarize(results)}, nil
}

func writeResults(w io.Writer, reports []FileReport, cfg *Config) error {
	var output string
	var err error

	if cfg.JSON {
		output, err = formatJSONOutput(reports, cfg)
	} else {
		output = formatTextOutput(reports, cfg)
	}

	if err != nil {
		return err
	}

	_, err = io.WriteString(w, output)
	return err
}

func formatJSONOutput(reports []FileReport, cfg *Config) (string, error) {
	out := jOutput{
		Files:     make([]jFile, 0, len(reports)),
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, rep := range reports {
		jf := jFile{Path: rep.Path, Stats: rep.Stats, Methods: make([]jMethod, 0, len(rep.Results))}
		for _, r := range rep.Results {
			m := jMethod{
				Method:     r.Method,
				OK:         !r.Failed(),
				Suppressed: r.Suppressed,
				Duration:   r.Duration,
			}
			if r.Err != nil {
				m.Reason = r.Err.Reason
				m.Offset = &r.Err.Offset
				if cfg.Verbose {
					var path strings.Builder
					_ = r.Err.WritePath(&path)
					m.Path = strings.Split(strings.TrimSuffix(path.String(), "\n"), "\n")
				}
			}
			if cfg.Types {
				m.Stacks = typeTable(r.Stacks)
				m.Locals = typeTable(r.Locals)
			}
			jf.Methods = append(jf.Methods, m)
		}
		out.Files = append(out.Files, jf)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling json output: %w", err)
	}
	return string(data) + "\n", nil
}

func typeTable(rows [][]jvmtype.Type) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		if row != nil {
			out[i] = jvmtype.Strings(row)
		}
	}
	return out
}

func formatTextOutput(reports []FileReport, cfg *Config) string {
	var output strings.Builder

	for _, rep := range reports {
		if cfg.Verbose {
			slog.Info("",
				"file", rep.Path,
				"methods", rep.Stats.Methods,
				"failed", rep.Stats.Failed,
				"suppressed", rep.Stats.Suppressed)
		}

		for _, r := range rep.Results {
			switch {
			case r.Err == nil:
				output.WriteString(fmt.Sprintf("%s: %s: ok\n", rep.Path, r.Method))
			case r.Suppressed:
				output.WriteString(fmt.Sprintf("%s: %s: suppressed (%s): %s\n", rep.Path, r.Method, r.SuppressReason, r.Err))
			default:
				output.WriteString(fmt.Sprintf("%s: %s: FAILED %s\n", rep.Path, r.Method, r.Err))
			}

			if r.Err != nil && cfg.Verbose {
				var path strings.Builder
				_ = r.Err.WritePath(&path)
				for line := range strings.Lines(path.String()) {
					output.WriteString("    " + line)
				}
			}
			if cfg.Types {
				writeTypes(&output, r)
			}
		}
	}

	return output.String()
}

func writeTypes(b *strings.Builder, r bcverify.Result) {
	for i := range r.Stacks {
		if r.Stacks[i] == nil {
			continue
		}
		fmt.Fprintf(b, "  %4d  [%s] [%s]\n", i,
			strings.Join(jvmtype.Strings(r.Stacks[i]), ","),
			strings.Join(jvmtype.Strings(r.Locals[i]), ","))
	}
}

type jOutput struct {
	Files     []jFile `json:"files"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
}

type jFile struct {
	Path    string         `json:"path"`
	Methods []jMethod      `json:"methods"`
	Stats   bcverify.Stats `json:"stats"`
}

type jMethod struct {
	Method     string        `json:"method"`
	OK         bool          `json:"ok"`
	Suppressed bool          `json:"suppressed,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Offset     *int          `json:"offset,omitempty"`
	Path       []string      `json:"path,omitempty"`
	Stacks     [][]string    `json:"stacks,omitempty"`
	Locals     [][]string    `json:"locals,omitempty"`
	Duration   time.Duration `json:"duration"`
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
