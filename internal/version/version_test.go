package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = oldV, oldC, oldD })

	Version, Commit, BuildDate = "v1.2.3", "abc1234", "2025-01-01"
	want := "kbase v1.2.3 (commit: abc1234, built: 2025-01-01)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
