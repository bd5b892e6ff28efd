package chocogen

import "testing"

func TestToTypeDebugBaseType(t *testing.T) {
	got := ToTypeDebug(ClassAnnotation("int"))
	want := TypeDebug{CoreName: "int", ArrayLevel: 0}
	if got != want {
		t.Errorf("ToTypeDebug(int) = %+v, want %+v", got, want)
	}
}

func TestToTypeDebugNestedList(t *testing.T) {
	// [[int]] -> two levels of list nesting wrapping int.
	ann := ListAnnotation(ListAnnotation(ClassAnnotation("int")))
	got := ToTypeDebug(ann)
	want := TypeDebug{CoreName: "int", ArrayLevel: 2}
	if got != want {
		t.Errorf("ToTypeDebug([[int]]) = %+v, want %+v", got, want)
	}
	if got.String() != "[[int]]" {
		t.Errorf("String() = %q, want [[int]]", got.String())
	}
}

func TestIsList(t *testing.T) {
	if ClassAnnotation("str").IsList() {
		t.Error("class annotation reported as list")
	}
	if !ListAnnotation(ClassAnnotation("str")).IsList() {
		t.Error("list annotation not reported as list")
	}
}
