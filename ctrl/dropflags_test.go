package ctrl

import "testing"

func TestDropFlagsSetClearIsSet(t *testing.T) {
	d := NewDropFlags()
	if d.IsSet("cam1") {
		t.Fatal("expected cam1 not set initially")
	}
	d.Set("cam1")
	if !d.IsSet("cam1") {
		t.Fatal("expected cam1 set after Set")
	}
	if d.IsSet("cam2") {
		t.Fatal("expected cam2 to remain unset")
	}
	d.Clear("cam1")
	if d.IsSet("cam1") {
		t.Fatal("expected cam1 cleared")
	}
}

func TestDropFlagsClearUnknownKeyIsNoop(t *testing.T) {
	d := NewDropFlags()
	d.Clear("never-set") // must not panic
}
