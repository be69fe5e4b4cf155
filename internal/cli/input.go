package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

const (
	ExitSuccess           = 0
	ExitBuildFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// CLIInvocation is the fully canonicalized, deterministic description of a run.
//
// All paths are normalized (Clean) and all relative paths are resolved
// relative to WorkDir.
//
// NOTE: WorkDir is required and must be absolute; this prevents any
// dependency on the process current working directory.
type CLIInvocation struct {
	WorkDir         string
	ProjectPath     string
	IntermediateDir string
	ManifestPath    string // empty when no manifest is requested

	OriginalProject      string
	OriginalIntermediate string
	OriginalManifest     string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses CLI flags into a canonical CLIInvocation.
//
// Determinism goals:
//   - Does not read/assume the process CWD.
//   - Requires WorkDir to be explicit and absolute.
func ParseInvocation(args []string) (CLIInvocation, error) {
	fs := flag.NewFlagSet("unitybatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	var workDir string
	var projectPath string
	var intermediateDir string
	var manifestPath string

	fs.StringVar(&workDir, "workdir", "", "Absolute working directory. Required.")
	fs.StringVar(&projectPath, "project", "unitybatch.yaml", "Project file path.")
	fs.StringVar(&intermediateDir, "intermediate-dir", "", "Directory for generated unity units. Required.")
	fs.StringVar(&manifestPath, "manifest", "", "Build manifest output path (optional).")

	if err := fs.Parse(args); err != nil {
		return CLIInvocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return CLIInvocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	workDir = filepath.Clean(workDir)
	if workDir == "" || workDir == "." {
		return CLIInvocation{}, invalidInvocationf("--workdir is required")
	}
	if !filepath.IsAbs(workDir) {
		return CLIInvocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", workDir)
	}
	if intermediateDir == "" {
		return CLIInvocation{}, invalidInvocationf("--intermediate-dir is required")
	}

	resolvedProject, err := resolveUnderWorkDir(workDir, projectPath)
	if err != nil {
		return CLIInvocation{}, err
	}
	resolvedIntermediate, err := resolveUnderWorkDir(workDir, intermediateDir)
	if err != nil {
		return CLIInvocation{}, err
	}

	inv := CLIInvocation{
		WorkDir:              workDir,
		ProjectPath:          resolvedProject,
		IntermediateDir:      resolvedIntermediate,
		OriginalProject:      projectPath,
		OriginalIntermediate: intermediateDir,
		OriginalManifest:     manifestPath,
	}

	if strings.TrimSpace(manifestPath) != "" {
		resolvedManifest, err := resolveUnderWorkDir(workDir, manifestPath)
		if err != nil {
			return CLIInvocation{}, err
		}
		inv.ManifestPath = resolvedManifest
	}

	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}

	// If absolute, accept as-is; it is still deterministic.
	// If relative, resolve under WorkDir.
	if filepath.IsAbs(clean) {
		return clean, nil
	}

	// WorkDir is required to be absolute, so Join does not consult process CWD.
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
