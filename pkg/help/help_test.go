package help

import (
	"bytes"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name  string
		want  string
		found bool
	}{
		{"runs", "runs", true},
		{"h", "help", true},
		{"q", "exit", true},
		{" steps ", "steps", true},
		{"bogus", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		c, ok := Lookup(tt.name)
		if ok != tt.found || c.Name != tt.want {
			t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.name, c.Name, ok, tt.want, tt.found)
		}
	}
}

func TestCommands_Consistent(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range Commands {
		if seen[c.Name] {
			t.Errorf("duplicate command %q", c.Name)
		}
		seen[c.Name] = true
		if !strings.HasPrefix(c.Usage, c.Name) {
			t.Errorf("%s: usage %q should start with the name", c.Name, c.Usage)
		}
		if c.TakesRun && !strings.Contains(c.Usage, "<id>") {
			t.Errorf("%s takes a run but usage has no <id>", c.Name)
		}
		if c.Category.DisplayName() == string(c.Category) {
			t.Errorf("%s: category %q has no display name", c.Name, c.Category)
		}
	}
}

func TestRenderFull_Plain(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(&buf, false).RenderFull()
	out := buf.String()

	if strings.Contains(out, "\033[") {
		t.Error("plain output contains escape codes")
	}
	for _, c := range Commands {
		if !strings.Contains(out, c.Usage) {
			t.Errorf("missing usage %q", c.Usage)
		}
	}
	for _, cat := range CategoryOrder {
		if !strings.Contains(out, cat.DisplayName()) {
			t.Errorf("missing category %q", cat.DisplayName())
		}
	}
}

func TestRenderFull_AlignsDescriptions(t *testing.T) {
	var colored, plain bytes.Buffer
	NewRenderer(&colored, true).RenderFull()
	NewRenderer(&plain, false).RenderFull()

	cl := strings.Split(colored.String(), "\n")
	pl := strings.Split(plain.String(), "\n")
	if len(cl) != len(pl) {
		t.Fatalf("line counts differ: %d vs %d", len(cl), len(pl))
	}
	for i := range cl {
		if visibleLength(cl[i]) != len([]rune(pl[i])) {
			t.Errorf("line %d: visible width %d, plain width %d", i, visibleLength(cl[i]), len([]rune(pl[i])))
		}
	}
}

func TestRenderCommand(t *testing.T) {
	var buf bytes.Buffer
	if !NewRenderer(&buf, false).RenderCommand("steps") {
		t.Fatal("steps should exist")
	}
	out := buf.String()
	for _, want := range []string{"Usage: steps <id> [n]", "steps 3f2a 50 -> last 50 steps"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}

	buf.Reset()
	NewRenderer(&buf, false).RenderCommand("h")
	if !strings.Contains(buf.String(), "help (or h)") {
		t.Errorf("alias not shown: %q", buf.String())
	}

	buf.Reset()
	if NewRenderer(&buf, false).RenderCommand("nope") {
		t.Error("unknown command reported as found")
	}
}

func TestVisibleLength(t *testing.T) {
	if n := visibleLength(colorCyan + "abc" + colorReset); n != 3 {
		t.Errorf("got %d", n)
	}
	if n := visibleLength("│ x"); n != 3 {
		t.Errorf("got %d", n)
	}
}
