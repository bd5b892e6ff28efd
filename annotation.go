package chocogen

// TypeAnnotation is the only shape the type checker's output needs to
// expose to this backend (spec §6): a type is either a class reference or
// a list reference wrapping another annotation. The source language itself,
// its parser, and its checker are external collaborators; this is the sole
// contract this package depends on from them.
type TypeAnnotation struct {
	// ClassName is set when this annotation names a class (or one of the
	// base names int/str/bool/object/<None>). Element is nil in that case.
	ClassName string
	// Element is set when this annotation is a list type; it names the
	// element annotation one level down.
	Element *TypeAnnotation
}

// ClassAnnotation builds a class-reference TypeAnnotation.
func ClassAnnotation(name string) TypeAnnotation {
	return TypeAnnotation{ClassName: name}
}

// ListAnnotation builds a list-reference TypeAnnotation wrapping elem.
func ListAnnotation(elem TypeAnnotation) TypeAnnotation {
	return TypeAnnotation{Element: &elem}
}

// IsList reports whether this annotation is a list reference.
func (a TypeAnnotation) IsList() bool { return a.Element != nil }

// ToTypeDebug recursively converts a TypeAnnotation to a TypeDebug: list
// nesting becomes the ArrayLevel count, and the innermost ClassName becomes
// CoreName.
func ToTypeDebug(a TypeAnnotation) TypeDebug {
	if !a.IsList() {
		return NewClassType(a.ClassName)
	}
	inner := ToTypeDebug(*a.Element)
	inner.ArrayLevel++
	return inner
}
