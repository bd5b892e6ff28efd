package chocogen

import "testing"

func repMap(reps []TypeDebugRepresentative) map[string]uint32 {
	m := make(map[string]uint32, len(reps))
	for _, r := range reps {
		m[r.CoreName] = r.MaxArrayLevel
	}
	return m
}

func TestAnalyzeTypeUsageIncludesBaseNamesWhenEmpty(t *testing.T) {
	cs := &CodeSet{ClassesDebug: map[string]ClassDebug{}}
	got := repMap(AnalyzeTypeUsage(cs))

	for _, name := range baseTypeNames {
		level, ok := got[name]
		if !ok {
			t.Fatalf("missing base type representative for %q", name)
		}
		if level != 0 {
			t.Errorf("base type %q: want MaxArrayLevel 0 with no uses, got %d", name, level)
		}
	}
}

// TestAnalyzeTypeUsageNestedArrays exercises spec §8 scenario 2: a global
// `x: [[int]] = None` should report int's representative at array level 2.
func TestAnalyzeTypeUsageNestedArrays(t *testing.T) {
	cs := &CodeSet{
		GlobalsDebug: []VarDebug{
			{Offset: 0, Line: 1, Name: "x", VarType: TypeDebug{CoreName: "int", ArrayLevel: 2}},
		},
		ClassesDebug: map[string]ClassDebug{},
	}
	got := repMap(AnalyzeTypeUsage(cs))
	if got["int"] != 2 {
		t.Errorf("int representative: want MaxArrayLevel 2, got %d", got["int"])
	}
}

func TestAnalyzeTypeUsageTakesMaxAcrossSites(t *testing.T) {
	cs := &CodeSet{
		ClassesDebug: map[string]ClassDebug{
			"C": {
				Attributes: []VarDebug{
					{Name: "a", VarType: TypeDebug{CoreName: "str", ArrayLevel: 1}},
				},
			},
		},
		Chunks: []Chunk{
			{
				Name: "f",
				Extra: ProcedureExtra(ProcedureDebug{
					ReturnType: TypeDebug{CoreName: "str", ArrayLevel: 3},
					Params: []VarDebug{
						{Name: "p", VarType: TypeDebug{CoreName: "str", ArrayLevel: 0}},
					},
				}),
			},
		},
	}
	got := repMap(AnalyzeTypeUsage(cs))
	if got["str"] != 3 {
		t.Errorf("str representative: want max observed level 3, got %d", got["str"])
	}
}

func TestTypeDebugStringRendersArrayNesting(t *testing.T) {
	td := TypeDebug{CoreName: "str", ArrayLevel: 3}
	if got, want := td.String(), "[[[str]]]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := NewClassType("Robot").String(), "Robot"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
