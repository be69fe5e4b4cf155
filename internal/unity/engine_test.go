package unity

import (
	"reflect"
	"strings"
	"testing"
)

// fakeSink records everything the engine hands to external collaborators.
type fakeSink struct {
	files      map[string]string
	workingSet []string
	candidates []string
	diags      []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{files: make(map[string]string)}
}

func (s *fakeSink) AddFileToWorkingSet(path string) { s.workingSet = append(s.workingSet, path) }

func (s *fakeSink) AddCandidateForWorkingSet(path string) {
	s.candidates = append(s.candidates, path)
}

func (s *fakeSink) AddDiagnostic(message string) { s.diags = append(s.diags, message) }

func (s *fakeSink) CreateIntermediateTextFile(path, content string) (CompileUnit, error) {
	s.files[path] = content
	return CompileUnit{Path: path}, nil
}

// setWorkingSet is a fixed working set keyed case-insensitively.
type setWorkingSet map[string]bool

func (w setWorkingSet) Contains(path string) bool { return w[PathKey(path)] }

func testOptions() Options {
	return Options{
		ModuleName:      "Core",
		IntermediateDir: "/intermediate/Core",
		BytesPerUnit:    200,
	}
}

func runEngine(t *testing.T, opts Options, ws WorkingSet, sink Sink, files []SourceFile) *Plan {
	t.Helper()
	e, err := NewEngine(opts, ws, sink)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	plan, err := e.Run(files)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return plan
}

func unitPaths(plan *Plan) []string {
	out := make([]string, 0, len(plan.Units))
	for _, u := range plan.Units {
		out = append(out, u.Path)
	}
	return out
}

func TestEngine_SplitsBySizeIntoNumberedUnits(t *testing.T) {
	sink := newFakeSink()
	plan := runEngine(t, testOptions(), nil, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 100},
		{Path: "/m/b.cpp", Size: 150},
		{Path: "/m/c.cpp", Size: 50},
	})

	want := []string{
		"/intermediate/Core/Module.Core.1_of_2.cpp",
		"/intermediate/Core/Module.Core.2_of_2.cpp",
	}
	if got := unitPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("unit paths = %v, want %v", got, want)
	}
	for _, u := range plan.Units {
		if !u.Generated {
			t.Fatalf("unit %s not marked generated", u.Path)
		}
	}

	first := sink.files[want[0]]
	if !strings.Contains(first, "#include \"/m/a.cpp\"\n") || !strings.Contains(first, "#include \"/m/b.cpp\"\n") {
		t.Fatalf("unexpected first unit content:\n%s", first)
	}
	if strings.Contains(first, "/m/c.cpp") {
		t.Fatalf("c.cpp leaked into first unit:\n%s", first)
	}
}

func TestEngine_SingleGroupGetsUnsuffixedName(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.BytesPerUnit = -1 // unlimited
	plan := runEngine(t, opts, nil, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 10},
		{Path: "/m/b.cpp", Size: 10},
		{Path: "/m/c.cpp", Size: 10},
		{Path: "/m/d.cpp", Size: 10},
		{Path: "/m/e.cpp", Size: 10},
	})

	want := []string{"/intermediate/Core/Module.Core.cpp"}
	if got := unitPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("unit paths = %v, want %v", got, want)
	}
	content := sink.files[want[0]]
	if got := strings.Count(content, "#include "); got != 5 {
		t.Fatalf("include count = %d, want 5\n%s", got, content)
	}
}

func TestEngine_DeterministicAcrossInputOrder(t *testing.T) {
	files := []SourceFile{
		{Path: "/m/Delta.cpp", Size: 120},
		{Path: "/m/alpha.cpp", Size: 80},
		{Path: "/m/Charlie.cpp", Size: 90},
		{Path: "/m/bravo.cpp", Size: 60},
	}
	shuffled := []SourceFile{files[2], files[0], files[3], files[1]}

	sinkA := newFakeSink()
	planA := runEngine(t, testOptions(), nil, sinkA, files)
	sinkB := newFakeSink()
	planB := runEngine(t, testOptions(), nil, sinkB, shuffled)

	if !reflect.DeepEqual(unitPaths(planA), unitPaths(planB)) {
		t.Fatalf("unit lists diverged: %v vs %v", unitPaths(planA), unitPaths(planB))
	}
	if !reflect.DeepEqual(sinkA.files, sinkB.files) {
		t.Fatalf("generated content diverged:\n%v\nvs\n%v", sinkA.files, sinkB.files)
	}
	if !reflect.DeepEqual(planA.Mapping, planB.Mapping) {
		t.Fatalf("mappings diverged")
	}

	// Sorting is case-insensitive: alpha < bravo < Charlie < Delta.
	content := sinkA.files[unitPaths(planA)[0]]
	ia := strings.Index(content, "alpha.cpp")
	ib := strings.Index(content, "bravo.cpp")
	ic := strings.Index(content, "Charlie.cpp")
	if ia < 0 || ib < 0 || ic < 0 || !(ia < ib && ib < ic) {
		t.Fatalf("case-insensitive order not honored:\n%s", content)
	}
}

func TestEngine_SmallPCHModuleCollapsesToSingleUnit(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.BytesPerUnit = 100
	opts.EnablePCH = true
	plan := runEngine(t, opts, nil, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 4},
		{Path: "/m/b.cpp", Size: 6},
	})

	// Total size 10 < 2*100 with PCH enabled: one unit regardless of splits.
	want := []string{"/intermediate/Core/Module.Core.cpp"}
	if got := unitPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("unit paths = %v, want %v", got, want)
	}
}

func TestEngine_StressFlagForcesSingleUnit(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.BytesPerUnit = 10
	opts.ForceSingleUnit = true
	plan := runEngine(t, opts, nil, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 500},
		{Path: "/m/b.cpp", Size: 500},
		{Path: "/m/c.gen.cpp", Size: 20},
	})

	// Forced single unit folds even generated glue sources in.
	want := []string{"/intermediate/Core/Module.Core.cpp"}
	if got := unitPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("unit paths = %v, want %v", got, want)
	}
	if !strings.Contains(sink.files[want[0]], "c.gen.cpp") {
		t.Fatalf("generated source missing from forced unit:\n%s", sink.files[want[0]])
	}
}

func TestEngine_GeneratedSourceCompilesStandalone(t *testing.T) {
	sink := newFakeSink()
	plan := runEngine(t, testOptions(), nil, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 50},
		{Path: "/m/Core.gen.cpp", Size: 50},
	})

	want := []string{
		"/intermediate/Core/Module.Core.cpp",
		"/m/Core.gen.cpp",
	}
	if got := unitPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("unit paths = %v, want %v", got, want)
	}
	for _, content := range sink.files {
		if strings.Contains(content, "Core.gen.cpp") {
			t.Fatalf("generated source folded into an aggregate:\n%s", content)
		}
	}
	if got := plan.Mapping[PathKey("/m/Core.gen.cpp")]; got.Unit != "/m/Core.gen.cpp" || got.Source != "/m/Core.gen.cpp" {
		t.Fatalf("generated source maps to %+v, want itself", got)
	}
}

func TestEngine_AdaptiveExcludesWorkingSetFiles(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.AdaptiveUnity = true
	ws := setWorkingSet{PathKey("/m/b.cpp"): true}
	plan := runEngine(t, opts, ws, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 100},
		{Path: "/m/b.cpp", Size: 150},
		{Path: "/m/c.cpp", Size: 50},
	})

	// Group boundaries match the all-member run exactly: the reservation for
	// b.cpp still overflows group 1, so c.cpp starts group 2.
	want := []string{
		"/intermediate/Core/Module.Core.1_of_2.cpp",
		"/intermediate/Core/Module.Core.2_of_2.cpp",
		"/m/b.cpp",
	}
	if got := unitPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("unit paths = %v, want %v", got, want)
	}
	if got := sink.files[want[0]]; strings.Contains(got, "b.cpp") {
		t.Fatalf("excluded file physically included:\n%s", got)
	}
	if !reflect.DeepEqual(plan.Excluded, []string{"/m/b.cpp"}) {
		t.Fatalf("Excluded = %v, want [/m/b.cpp]", plan.Excluded)
	}
	// The reservation keeps the excluded file attached to its group in the
	// mapping table.
	if got := plan.Mapping[PathKey("/m/b.cpp")]; got.Unit != want[0] {
		t.Fatalf("excluded file maps to %q, want %q", got.Unit, want[0])
	}
	if !reflect.DeepEqual(sink.workingSet, []string{"/m/b.cpp"}) {
		t.Fatalf("working-set report = %v, want [/m/b.cpp]", sink.workingSet)
	}
	if !reflect.DeepEqual(sink.candidates, []string{"/m/a.cpp", "/m/c.cpp"}) {
		t.Fatalf("candidate report = %v, want [/m/a.cpp /m/c.cpp]", sink.candidates)
	}
	if len(plan.Diagnostics) == 0 || !strings.Contains(plan.Diagnostics[0], "b.cpp") {
		t.Fatalf("expected an exclusion diagnostic, got %v", plan.Diagnostics)
	}
}

func TestEngine_AdaptiveDisabledWhenEveryFileInWorkingSet(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.AdaptiveUnity = true
	opts.BytesPerUnit = -1
	ws := setWorkingSet{
		PathKey("/m/a.cpp"): true,
		PathKey("/m/b.cpp"): true,
		PathKey("/m/c.cpp"): true,
		PathKey("/m/d.cpp"): true,
	}
	plan := runEngine(t, opts, ws, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 10},
		{Path: "/m/b.cpp", Size: 10},
		{Path: "/m/c.cpp", Size: 10},
		{Path: "/m/d.cpp", Size: 10},
	})

	if len(plan.Excluded) != 0 {
		t.Fatalf("Excluded = %v, want none: exclusion must disable itself", plan.Excluded)
	}
	if got := unitPaths(plan); !reflect.DeepEqual(got, []string{"/intermediate/Core/Module.Core.cpp"}) {
		t.Fatalf("unit paths = %v, want a single full aggregate", got)
	}
	if len(sink.workingSet) != 0 || len(sink.candidates) != 0 {
		t.Fatalf("disabled adaptive still reported: ws=%v candidates=%v", sink.workingSet, sink.candidates)
	}
}

func TestEngine_StressFlagSuppressesAdaptive(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.AdaptiveUnity = true
	opts.ForceSingleUnit = true
	ws := setWorkingSet{PathKey("/m/a.cpp"): true}
	plan := runEngine(t, opts, ws, sink, []SourceFile{
		{Path: "/m/a.cpp", Size: 100},
		{Path: "/m/b.cpp", Size: 100},
	})

	if len(plan.Excluded) != 0 {
		t.Fatalf("Excluded = %v, want none under the stress flag", plan.Excluded)
	}
	if got := unitPaths(plan); !reflect.DeepEqual(got, []string{"/intermediate/Core/Module.Core.cpp"}) {
		t.Fatalf("unit paths = %v", got)
	}
}

func TestEngine_MappingCoversEveryInput(t *testing.T) {
	sink := newFakeSink()
	opts := testOptions()
	opts.AdaptiveUnity = true
	ws := setWorkingSet{PathKey("/m/edit.cpp"): true}
	files := []SourceFile{
		{Path: "/m/a.cpp", Size: 50},
		{Path: "/m/edit.cpp", Size: 60},
		{Path: "/m/glue.gen.cpp", Size: 10},
		{Path: "/m/z.cpp", Size: 50},
	}
	plan := runEngine(t, opts, ws, sink, files)

	for _, f := range files {
		entry, ok := plan.Mapping[PathKey(f.Path)]
		if !ok {
			t.Fatalf("no mapping entry for %s", f.Path)
		}
		if entry.Source != f.Path {
			t.Fatalf("mapping source = %q, want the supplied path %q", entry.Source, f.Path)
		}
	}
}

func TestEngine_MappingPreservesOriginalPathCase(t *testing.T) {
	sink := newFakeSink()
	plan := runEngine(t, testOptions(), nil, sink, []SourceFile{
		{Path: "/m/Core/Alpha.cpp", Size: 50},
		{Path: "/m/Core/BETA.cpp", Size: 50},
	})

	for _, raw := range []string{"/m/Core/Alpha.cpp", "/m/Core/BETA.cpp"} {
		entry, ok := plan.Mapping[PathKey(raw)]
		if !ok {
			t.Fatalf("no mapping entry for %s", raw)
		}
		if entry.Source != raw {
			t.Fatalf("mapping source = %q, want %q with original casing", entry.Source, raw)
		}
	}
}

func TestEngine_EmptyInputProducesNoUnits(t *testing.T) {
	sink := newFakeSink()
	plan := runEngine(t, testOptions(), nil, sink, nil)
	if len(plan.Units) != 0 || len(sink.files) != 0 {
		t.Fatalf("empty input emitted units: %v", plan.Units)
	}
}

func TestEngine_DiagnosticsDeduplicatedInFirstSeenOrder(t *testing.T) {
	sink := newFakeSink()
	e, err := NewEngine(testOptions(), nil, sink)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	plan := &Plan{}
	e.addDiagnostic(plan, "first")
	e.addDiagnostic(plan, "second")
	e.addDiagnostic(plan, "first")
	e.addDiagnostic(plan, "second")
	e.addDiagnostic(plan, "third")

	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(e.diags, want) {
		t.Fatalf("diags = %v, want %v", e.diags, want)
	}
	if !reflect.DeepEqual(sink.diags, want) {
		t.Fatalf("sink diags = %v, want %v", sink.diags, want)
	}
}

func TestNewEngine_RejectsInvalidConfiguration(t *testing.T) {
	sink := newFakeSink()
	if _, err := NewEngine(Options{IntermediateDir: "/i"}, nil, sink); err == nil {
		t.Fatal("missing module name accepted")
	}
	if _, err := NewEngine(Options{ModuleName: "Core"}, nil, sink); err == nil {
		t.Fatal("missing intermediate dir accepted")
	}
	if _, err := NewEngine(testOptions(), nil, nil); err == nil {
		t.Fatal("nil sink accepted")
	}
}
