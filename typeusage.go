package chocogen

import "golang.org/x/exp/maps"

// baseTypeNames are the five special core names every TypeDebugRepresentative
// set must include, even when the program never uses them directly.
var baseTypeNames = []string{"int", "str", "bool", "object", "<None>"}

// usedTypes walks a CodeSet and yields every TypeDebug appearing in any
// procedure's return/parameter/local types, any global's type, or any
// class's attribute types.
func usedTypes(cs *CodeSet) []TypeDebug {
	var types []TypeDebug
	for _, chunk := range cs.Chunks {
		if chunk.Extra.IsProcedure {
			types = append(types, chunk.Extra.Procedure.UsedTypes()...)
		}
	}
	for _, g := range cs.GlobalsDebug {
		types = append(types, g.VarType)
	}
	for _, class := range cs.ClassesDebug {
		types = append(types, class.UsedTypes()...)
	}
	return types
}

// AnalyzeTypeUsage computes, for each core type name encountered anywhere in
// cs, the maximum array nesting depth at which it is used (spec §4.1). The
// five base names are always present even if never observed, with
// MaxArrayLevel 0 in that case. Iteration order of the result is
// unspecified.
func AnalyzeTypeUsage(cs *CodeSet) []TypeDebugRepresentative {
	maxLevel := make(map[string]uint32)
	for _, name := range baseTypeNames {
		maxLevel[name] = 0
	}
	for _, t := range usedTypes(cs) {
		if cur, ok := maxLevel[t.CoreName]; !ok || t.ArrayLevel > cur {
			maxLevel[t.CoreName] = t.ArrayLevel
		}
	}

	names := maps.Keys(maxLevel)
	out := make([]TypeDebugRepresentative, 0, len(names))
	for _, name := range names {
		out = append(out, TypeDebugRepresentative{CoreName: name, MaxArrayLevel: maxLevel[name]})
	}
	return out
}
