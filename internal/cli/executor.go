package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"unitybatch/internal/atomicfile"
	"unitybatch/internal/config"
	"unitybatch/internal/intermediate"
	"unitybatch/internal/manifest"
	"unitybatch/internal/scan"
	"unitybatch/internal/unity"
	"unitybatch/internal/workset"
)

// CLIResult is the outcome of one invocation.
type CLIResult struct {
	ExitCode int

	// Manifest is the full build record, also written to disk when the
	// invocation asked for one.
	Manifest *manifest.BuildManifest

	// Diagnostics are every module's deduplicated log lines, in module
	// processing order. The caller decides where to print them.
	Diagnostics []string
}

// Execute maps a canonical CLIInvocation to a full batching run.
//
// Responsibilities:
//   - Load environment overrides and the project file.
//   - Batch every module in declaration order, each with its own engine.
//   - Persist working-set classifications for the next invocation.
//   - Assemble and optionally write the build manifest.
//   - Translate failures to semantic exit codes.
func Execute(inv CLIInvocation) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.Manifest = nil
			execErr = fmt.Errorf("panic: %v", r)
		}
	}()

	overrides, err := config.LoadOverrides(filepath.Dir(inv.ProjectPath))
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	project, err := config.Load(inv.ProjectPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	scanner, err := scan.NewScanner()
	if err != nil {
		return res, err
	}
	store, err := workset.NewStore(inv.WorkDir)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	writer := intermediate.NewWriter()

	// One instant for the whole invocation: working-set membership must not
	// drift between modules.
	now := time.Now().UTC()
	window := time.Duration(project.Defaults.EffectiveWorkingSetMinutes()) * time.Minute

	build := &manifest.BuildManifest{GeneratedAt: now.Format(time.RFC3339)}

	for _, mod := range project.Modules {
		record, diags, err := batchModule(moduleRun{
			Module:    mod,
			Defaults:  project.Defaults,
			Overrides: overrides,
			Scanner:   scanner,
			Store:     store,
			Writer:    writer,
			Now:       now,
			Window:    window,
			UnitDir:   filepath.Join(inv.IntermediateDir, mod.Name),
		})
		if err != nil {
			res.ExitCode = ExitBuildFailure
			return res, fmt.Errorf("module %s: %w", mod.Name, err)
		}
		build.Modules = append(build.Modules, record)
		res.Diagnostics = append(res.Diagnostics, diags...)
	}

	if inv.ManifestPath != "" {
		data, err := build.CanonicalJSON()
		if err != nil {
			return res, err
		}
		if err := os.MkdirAll(filepath.Dir(inv.ManifestPath), 0o755); err != nil {
			res.ExitCode = ExitBuildFailure
			return res, fmt.Errorf("create manifest dir: %w", err)
		}
		if err := atomicfile.WriteFile(inv.ManifestPath, append(data, '\n'), 0o644); err != nil {
			res.ExitCode = ExitBuildFailure
			return res, fmt.Errorf("write manifest: %w", err)
		}
	}

	res.Manifest = build
	res.ExitCode = ExitSuccess
	return res, nil
}

// moduleRun carries everything one module's batching needs.
type moduleRun struct {
	Module    config.Module
	Defaults  config.Defaults
	Overrides config.Overrides
	Scanner   *scan.Scanner
	Store     *workset.Store
	Writer    *intermediate.Writer
	Now       time.Time
	Window    time.Duration
	UnitDir   string
}

// buildSink fans the engine's collaborator calls out to the recorder, the
// intermediate writer, and the diagnostics buffer.
type buildSink struct {
	recorder *workset.Recorder
	writer   *intermediate.Writer
	diags    []string
}

func (s *buildSink) AddFileToWorkingSet(path string) { s.recorder.AddFileToWorkingSet(path) }

func (s *buildSink) AddCandidateForWorkingSet(path string) {
	s.recorder.AddCandidateForWorkingSet(path)
}

func (s *buildSink) AddDiagnostic(message string) { s.diags = append(s.diags, message) }

func (s *buildSink) CreateIntermediateTextFile(path, content string) (unity.CompileUnit, error) {
	return s.writer.CreateIntermediateTextFile(path, content)
}

func batchModule(run moduleRun) (manifest.ModuleRecord, []string, error) {
	files, err := run.Scanner.ScanModule(run.Module.Dir)
	if err != nil {
		return manifest.ModuleRecord{}, nil, fmt.Errorf("enumerating sources: %w", err)
	}

	if !run.Module.UnityEnabled() {
		return passthroughRecord(run.Module.Name, files), nil, nil
	}

	sources := make([]unity.SourceFile, len(files))
	for i, f := range files {
		sources[i] = unity.SourceFile{Path: f.Path, Size: f.Size}
	}

	ws := &workset.MTimeWindow{
		Stat: func(path string) (time.Time, error) {
			fi, err := run.Scanner.Stat(path)
			if err != nil {
				return time.Time{}, err
			}
			return fi.ModTime, nil
		},
		Now:    run.Now,
		Window: run.Window,
	}

	bytesPerUnit := run.Module.EffectiveBytesPerUnit(run.Defaults)
	if run.Overrides.BytesPerUnit != 0 {
		bytesPerUnit = run.Overrides.BytesPerUnit
	}

	recorder := workset.NewRecorder(run.Module.Name)
	sink := &buildSink{recorder: recorder, writer: run.Writer}

	engine, err := unity.NewEngine(unity.Options{
		ModuleName:      run.Module.Name,
		IntermediateDir: run.UnitDir,
		BytesPerUnit:    bytesPerUnit,
		EnablePCH:       run.Module.PCH,
		AdaptiveUnity:   run.Module.EffectiveAdaptive(run.Defaults) && !run.Overrides.DisableAdaptive,
		ForceSingleUnit: run.Overrides.StressSingleUnit,
	}, ws, sink)
	if err != nil {
		return manifest.ModuleRecord{}, nil, err
	}

	prior, err := run.Store.Load(run.Module.Name)
	if err != nil {
		return manifest.ModuleRecord{}, nil, fmt.Errorf("loading prior working set: %w", err)
	}

	plan, err := engine.Run(sources)
	if err != nil {
		return manifest.ModuleRecord{}, nil, err
	}

	if msg := regroupDiagnostic(run.Module.Name, prior, plan.Excluded); msg != "" {
		sink.AddDiagnostic(msg)
	}

	if err := run.Store.Save(recorder.Snapshot()); err != nil {
		return manifest.ModuleRecord{}, nil, fmt.Errorf("persisting working set: %w", err)
	}

	return planRecord(run.Module.Name, plan), sink.diags, nil
}

// regroupDiagnostic names the files the previous invocation batched as
// candidates that are now excluded: their former aggregates regroup this
// build, which is exactly the invalidation the candidate tracking exists for.
// Returns "" when nothing regrouped.
func regroupDiagnostic(module string, prior workset.Record, excluded []string) string {
	if len(excluded) == 0 || len(prior.Candidates) == 0 {
		return ""
	}
	wasCandidate := make(map[string]struct{}, len(prior.Candidates))
	for _, c := range prior.Candidates {
		wasCandidate[c] = struct{}{}
	}
	var regrouped []string
	for _, p := range excluded {
		if _, ok := wasCandidate[p]; ok {
			regrouped = append(regrouped, filepath.Base(p))
		}
	}
	if len(regrouped) == 0 {
		return ""
	}
	return fmt.Sprintf("Module %s: %d previously batched file(s) entered the working set; their units regroup this build: %s",
		module, len(regrouped), strings.Join(regrouped, ", "))
}

// passthroughRecord represents a module with unity disabled: every source
// compiles individually and maps to itself.
func passthroughRecord(name string, files []scan.FileInfo) manifest.ModuleRecord {
	record := manifest.ModuleRecord{Name: name}
	for _, f := range files {
		record.Units = append(record.Units, f.Path)
		record.Mappings = append(record.Mappings, manifest.Mapping{Source: f.Path, Unit: f.Path})
	}
	return record
}

func planRecord(name string, plan *unity.Plan) manifest.ModuleRecord {
	record := manifest.ModuleRecord{
		Name:        name,
		Excluded:    plan.Excluded,
		Diagnostics: plan.Diagnostics,
	}
	for _, u := range plan.Units {
		record.Units = append(record.Units, u.Path)
	}
	keys := make([]string, 0, len(plan.Mapping))
	for k := range plan.Mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := plan.Mapping[k]
		record.Mappings = append(record.Mappings, manifest.Mapping{Source: entry.Source, Unit: entry.Unit})
	}
	return record
}
