package slacktext

import "testing"

func TestSedDiff_Equal(t *testing.T) {
	if got := SedDiff("same", "same"); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
}

func TestSedDiff_BoundaryInsertion(t *testing.T) {
	got := SedDiff("mare blu", "il mare blu")
	want := "s/mare/il mare/"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSedDiff_AppendAtEnd(t *testing.T) {
	got := SedDiff("XYZ", `XYZ (meaning "bla")`)
	want := `s/$/(meaning "bla")/`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSedDiff_SimpleWordReplace(t *testing.T) {
	got := SedDiff("hello world", "hello there")
	want := "s/world/there/"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSedDiff_FormHasSOldNewSlashes(t *testing.T) {
	for _, pair := range [][2]string{
		{"a b c", "a x c"},
		{"one", "two"},
		{"", "hi"},
	} {
		got := SedDiff(pair[0], pair[1])
		if pair[0] == pair[1] {
			continue
		}
		if got == "" {
			t.Fatalf("expected non-empty diff for %q -> %q", pair[0], pair[1])
		}
		if got[0] != 's' || got[1] != '/' || got[len(got)-1] != '/' {
			t.Fatalf("diff %q does not have s/X/Y/ shape", got)
		}
	}
}
