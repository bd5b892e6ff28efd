package chocogen

import "testing"

func TestValidatePathAccepts(t *testing.T) {
	if err := validatePath(`C:\work\a.obj`); err != nil {
		t.Errorf("validatePath rejected a plain path: %v", err)
	}
}

// TestValidatePathRejects exercises spec §4.6 / §8 scenario 4: obj_path
// C:\work\a"b.obj must fail validation before any object is emitted.
func TestValidatePathRejects(t *testing.T) {
	tests := []string{
		`C:\work\a"b.obj`,
		`C:\work\a'b.obj`,
		"C:\\work\\a^b.obj",
		"C:\\work\\a\x01b.obj",
		`C:\work\trailing\`,
	}
	for _, p := range tests {
		if err := validatePath(p); err == nil {
			t.Errorf("validatePath(%q) = nil, want an error", p)
		}
	}
}

func TestValidatePathRejectsInvalidUTF8(t *testing.T) {
	bad := string([]byte{0xff, 0xfe})
	if err := validatePath(bad); err == nil {
		t.Error("validatePath accepted invalid UTF-8")
	}
}
