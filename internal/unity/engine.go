package unity

import (
	"fmt"
	"strings"
)

// WorkingSet answers whether a file is considered actively edited by the
// surrounding environment.
type WorkingSet interface {
	Contains(path string) bool
}

// CompileUnit is a handle to one file the downstream build graph will compile.
type CompileUnit struct {
	// Path is the absolute path of the unit.
	Path string

	// Generated reports whether the unit is a synthesized aggregate rather
	// than an original translation unit.
	Generated bool
}

// Sink receives the engine outputs owned by external collaborators: the
// working-set persistence layer and the intermediate-file writer.
type Sink interface {
	// AddFileToWorkingSet records that the engine classified a file into the
	// working set, so the next invocation can invalidate cleanly.
	AddFileToWorkingSet(path string)

	// AddCandidateForWorkingSet records a file that is batched today but
	// should invalidate the cached plan if the developer starts editing it.
	AddCandidateForWorkingSet(path string)

	// AddDiagnostic appends one human-readable line to the build log.
	// The engine deduplicates before calling.
	AddDiagnostic(message string)

	// CreateIntermediateTextFile writes content to path (idempotently: the
	// write is skipped when the on-disk bytes are already identical) and
	// returns a compile-unit handle for it.
	CreateIntermediateTextFile(path, content string) (CompileUnit, error)
}

// Options is the full, explicit configuration for one engine invocation.
//
// Everything the batching decision depends on lives here; the engine reads no
// ambient or global state.
type Options struct {
	// ModuleName names the module; it appears in generated file names and
	// diagnostics.
	ModuleName string

	// IntermediateDir is the directory generated aggregates are written to.
	IntermediateDir string

	// BytesPerUnit is the per-unit size budget in bytes. It is both the split
	// threshold and the scale for the single-unit policy. A value <= 0 means
	// unlimited: a single unit holds everything.
	BytesPerUnit int64

	// EnablePCH reports whether the module compiles against a precompiled
	// header. Small modules with PCH enabled collapse to a single unit so a
	// PCH slot is not wasted on needless parallelism.
	EnablePCH bool

	// AdaptiveUnity enables carving actively-edited files out of aggregates.
	AdaptiveUnity bool

	// ForceSingleUnit is the stress-test override: everything lands in one
	// unit and adaptive exclusion is suppressed.
	ForceSingleUnit bool

	// GeneratedSourceSuffix marks generated glue sources that must never be
	// folded into an aggregate (their module-definition macros would clash
	// when concatenated). Empty selects DefaultGeneratedSourceSuffix.
	GeneratedSourceSuffix string
}

// DefaultGeneratedSourceSuffix is the path suffix marking generated glue
// sources.
const DefaultGeneratedSourceSuffix = ".gen.cpp"

// Validate rejects configurations the engine cannot act on.
func (o Options) Validate() error {
	if strings.TrimSpace(o.ModuleName) == "" {
		return fmt.Errorf("unity: module name is required")
	}
	if strings.TrimSpace(o.IntermediateDir) == "" {
		return fmt.Errorf("unity: intermediate dir is required")
	}
	return nil
}

func (o Options) generatedSuffix() string {
	if o.GeneratedSourceSuffix == "" {
		return DefaultGeneratedSourceSuffix
	}
	return o.GeneratedSourceSuffix
}

// MapEntry is one source-to-unit mapping. Source carries the path exactly as
// it was supplied, never the case-folded comparison key: downstream bookkeeping
// and IDE navigation must see paths that exist on case-sensitive filesystems.
type MapEntry struct {
	// Source is the original source file path.
	Source string

	// Unit is the path of the compile unit that now represents the source.
	Unit string
}

// Plan is the complete result of one batching run.
type Plan struct {
	// Units is the ordered list of files to compile: synthesized aggregates
	// in group order, then standalone generated glue sources, then
	// working-set-excluded files, the latter two in sorted input order.
	Units []CompileUnit

	// Mapping holds one entry per original source file, keyed by PathKey.
	// Members and reservations of an emitted aggregate map to the aggregate;
	// standalone files map to themselves.
	Mapping map[string]MapEntry

	// Excluded lists the working-set files carved out of aggregates, in
	// sorted input order.
	Excluded []string

	// Diagnostics are the deduplicated log lines in first-seen order.
	Diagnostics []string
}

// Engine batches one module's translation units per one configuration.
//
// An Engine is single-use and single-threaded: construct, call Run once,
// discard. Independent module batches may run concurrently as long as each
// owns its Engine.
type Engine struct {
	opts Options
	ws   WorkingSet
	sink Sink

	seenDiags map[string]struct{}
	diags     []string
}

// NewEngine validates the configuration and wires the collaborators.
//
// A nil sink is a contract violation. A nil working set behaves as empty.
func NewEngine(opts Options, ws WorkingSet, sink Sink) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("unity: sink is required")
	}
	return &Engine{
		opts:      opts,
		ws:        ws,
		sink:      sink,
		seenDiags: make(map[string]struct{}),
	}, nil
}

// Run executes the full batching pass over files and returns the plan.
//
// The input slice is not mutated; the engine sorts a copy. Identical inputs
// and options yield an identical plan, byte-identical generated content
// included.
func (e *Engine) Run(files []SourceFile) (*Plan, error) {
	sorted := make([]SourceFile, len(files))
	copy(sorted, files)
	SortSourceFiles(sorted)

	var totalSize int64
	for _, f := range sorted {
		totalSize += f.Size
	}

	// Single-unit policy: forced by the stress flag, or chosen when the whole
	// module fits comfortably under one PCH-compatible unit.
	forceSingle := e.opts.ForceSingleUnit ||
		(e.opts.EnablePCH && e.opts.BytesPerUnit > 0 && totalSize < 2*e.opts.BytesPerUnit)

	inWorkingSet, adaptiveActive := e.evaluateWorkingSet(sorted)

	threshold := e.opts.BytesPerUnit
	if forceSingle {
		threshold = 0
	}
	builder := NewBuilder(threshold)

	plan := &Plan{Mapping: make(map[string]MapEntry, len(sorted))}
	suffix := strings.ToLower(e.opts.generatedSuffix())

	var wrapperUnits []CompileUnit
	var excludedUnits []CompileUnit
	var excludedNames []string

	for _, f := range sorted {
		key := PathKey(f.Path)
		switch {
		case !forceSingle && strings.HasSuffix(key, suffix):
			// Generated glue sources always compile standalone.
			wrapperUnits = append(wrapperUnits, CompileUnit{Path: f.Path})
			plan.Mapping[key] = MapEntry{Source: f.Path, Unit: f.Path}

		case inWorkingSet[key]:
			// Actively edited: reserve the size so other groups keep their
			// boundaries, compile the file on its own.
			if err := builder.AddReserved(f); err != nil {
				return nil, err
			}
			excludedUnits = append(excludedUnits, CompileUnit{Path: f.Path})
			plan.Excluded = append(plan.Excluded, f.Path)
			excludedNames = append(excludedNames, baseName(f.Path))
			plan.Mapping[key] = MapEntry{Source: f.Path, Unit: f.Path}
			e.sink.AddFileToWorkingSet(f.Path)

		default:
			if adaptiveActive {
				// Adaptive is active: flag the file so editing it
				// invalidates the cached plan on the next run.
				e.sink.AddCandidateForWorkingSet(f.Path)
			}
			if err := builder.AddMember(f); err != nil {
				return nil, err
			}
		}
	}

	groups, err := builder.Finalize()
	if err != nil {
		return nil, err
	}

	aggregates, err := e.emit(groups, plan.Mapping)
	if err != nil {
		return nil, err
	}

	if len(excludedNames) > 0 {
		e.addDiagnostic(plan, fmt.Sprintf(
			"Module %s: excluding %d recently modified file(s) from unity: %s",
			e.opts.ModuleName, len(excludedNames), strings.Join(excludedNames, ", ")))
		if e.opts.EnablePCH {
			e.addDiagnostic(plan, fmt.Sprintf(
				"Module %s: excluded files compile standalone and do not share the module precompiled header or unity optimization settings",
				e.opts.ModuleName))
		}
	}
	plan.Diagnostics = e.diags

	plan.Units = make([]CompileUnit, 0, len(aggregates)+len(wrapperUnits)+len(excludedUnits))
	plan.Units = append(plan.Units, aggregates...)
	plan.Units = append(plan.Units, wrapperUnits...)
	plan.Units = append(plan.Units, excludedUnits...)
	return plan, nil
}

// evaluateWorkingSet queries membership for every candidate and applies the
// disable-all rule.
//
// The returned map is keyed by PathKey and contains only true entries. The
// bool reports whether adaptive exclusion is active for this run: false when
// adaptive is off, overridden by the stress flag, or disabled because every
// candidate is in the working set (carving out the whole module would make
// the rebuild as slow as no unity at all).
func (e *Engine) evaluateWorkingSet(sorted []SourceFile) (map[string]bool, bool) {
	if !e.opts.AdaptiveUnity || e.opts.ForceSingleUnit || e.ws == nil {
		return nil, false
	}
	members := make(map[string]bool, len(sorted))
	candidateCount := 0
	workingSetCount := 0
	for _, f := range sorted {
		candidateCount++
		if e.ws.Contains(f.Path) {
			workingSetCount++
			members[PathKey(f.Path)] = true
		}
	}
	// The count can never exceed the candidate total; <= is kept rather than
	// == so the guard stays total even if that ever changes.
	if candidateCount <= workingSetCount {
		return nil, false
	}
	return members, true
}

// addDiagnostic records a message once, in first-seen order, and forwards new
// messages to the sink.
func (e *Engine) addDiagnostic(plan *Plan, message string) {
	if _, seen := e.seenDiags[message]; seen {
		return
	}
	e.seenDiags[message] = struct{}{}
	e.diags = append(e.diags, message)
	e.sink.AddDiagnostic(message)
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
