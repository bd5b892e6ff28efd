package chocogen

import "sort"

// sortClassMethods orders methods ascending by prototype/vtable slot
// offset, the iteration order spec §3 requires for ClassDebug.Methods.
// Plain sort.Slice, matching the teacher's own sort.Strings(symbolNames)
// idiom in codegen_elf_writer.go.
func sortClassMethods(methods []ClassMethod) {
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Offset < methods[j].Offset
	})
}
