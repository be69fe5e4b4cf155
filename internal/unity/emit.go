package unity

import (
	"fmt"
	"path"
	"strings"
)

// GeneratedFilePrefix starts every synthesized aggregate file name.
const GeneratedFilePrefix = "Module."

// UnitFileName returns the generated file name for the 1-based group index
// out of total groups. A single group gets the bare module name; multiple
// groups carry an N_of_M suffix so the mapping survives renumbering only when
// the grouping itself changed.
func UnitFileName(moduleName string, index, total int) string {
	if total <= 1 {
		return GeneratedFilePrefix + moduleName + ".cpp"
	}
	return fmt.Sprintf("%s%s.%d_of_%d.cpp", GeneratedFilePrefix, moduleName, index, total)
}

// unitContent synthesizes the text of one aggregate: a single header comment
// line, then one include directive per member in member order, forward-slash
// paths, nothing after the final directive.
func unitContent(moduleName string, group *Accumulator) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// Generated unity compilation unit for module %s; regenerated every build, do not edit.\n", moduleName)
	for _, m := range group.Members {
		fmt.Fprintf(&b, "#include \"%s\"\n", strings.ReplaceAll(m.Path, "\\", "/"))
	}
	return b.String()
}

// emit writes one aggregate per group through the sink and records the
// source-to-unit mapping for every member and reservation of that group.
func (e *Engine) emit(groups []*Accumulator, mapping map[string]MapEntry) ([]CompileUnit, error) {
	units := make([]CompileUnit, 0, len(groups))
	for i, g := range groups {
		name := UnitFileName(e.opts.ModuleName, i+1, len(groups))
		unitPath := path.Join(strings.ReplaceAll(e.opts.IntermediateDir, "\\", "/"), name)
		unit, err := e.sink.CreateIntermediateTextFile(unitPath, unitContent(e.opts.ModuleName, g))
		if err != nil {
			return nil, fmt.Errorf("writing unity unit %s: %w", name, err)
		}
		unit.Generated = true
		units = append(units, unit)

		for _, m := range g.Members {
			mapping[PathKey(m.Path)] = MapEntry{Source: m.Path, Unit: unit.Path}
		}
		for _, r := range g.Reserved {
			mapping[PathKey(r.Path)] = MapEntry{Source: r.Path, Unit: unit.Path}
		}
	}
	return units, nil
}
