package grouping

import (
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func frag(text string, page int, left, top float64) Fragment {
	return Fragment{Text: text, Page: page, Left: left, Top: top, Width: 0.3, Height: 0.012}
}

func TestGroupEmptyInput(t *testing.T) {
	if got := Group(nil); got != nil {
		t.Fatalf("expected nil sections for no fragments, got %v", got)
	}
	got := Group([]Fragment{frag("   ", 1, 0.1, 0.1), frag("", 1, 0.1, 0.2)})
	if got != nil {
		t.Fatalf("expected nil sections for whitespace-only fragments, got %v", got)
	}
}

func TestGroupDeterministic(t *testing.T) {
	frags := []Fragment{
		frag("EDUCATION", 1, 0.05, 0.10),
		frag("BSc Computer Science", 1, 0.05, 0.14),
		frag("SKILLS", 1, 0.05, 0.20),
		frag("Go, SQL", 1, 0.05, 0.24),
	}
	first := Group(frags)
	for i := 0; i < 5; i++ {
		if got := Group(frags); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: got %v want %v", i, got, first)
		}
	}
}

func TestGroupTotality(t *testing.T) {
	frags := []Fragment{
		frag("SUMMARY", 1, 0.05, 0.05),
		frag("Engineer with ten years of experience", 1, 0.05, 0.09),
		frag("EXPERIENCE", 1, 0.05, 0.15),
		frag("Acme Corp", 1, 0.05, 0.19),
		frag("Built data pipelines", 1, 0.05, 0.23),
	}
	sections := Group(frags)
	if got := sections.LineCount(); got != 5 {
		t.Fatalf("expected every fragment in exactly one line, got %d lines", got)
	}
	flat := sections.Flatten()
	for _, f := range frags {
		if !strings.Contains(flat, f.Text) {
			t.Errorf("fragment %q missing from flattened output", f.Text)
		}
	}
}

func TestGroupSectionKeysAreSequential(t *testing.T) {
	frags := []Fragment{
		frag("EDUCATION", 1, 0.05, 0.10),
		frag("BSc", 1, 0.05, 0.14),
		frag("PROJECTS", 1, 0.05, 0.20),
		frag("queue engine", 1, 0.05, 0.24),
		frag("SKILLS", 1, 0.05, 0.30),
	}
	sections := Group(frags)
	for i, sec := range sections {
		if want := strconv.Itoa(i + 1); sec.Key != want {
			t.Errorf("section %d key = %q, want %q", i, sec.Key, want)
		}
	}
}

func TestGroupHeadingsStartSections(t *testing.T) {
	frags := []Fragment{
		frag("Jane Doe", 1, 0.05, 0.02),
		frag("EDUCATION", 1, 0.05, 0.10),
		frag("BSc Computer Science", 1, 0.05, 0.14),
		frag("skills", 1, 0.05, 0.20), // lowercase keyword heading
		frag("Go, SQL, Kafka", 1, 0.05, 0.24),
	}
	sections := Group(frags)
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d: %v", len(sections), sections)
	}
	if sections[1].Lines[0] != "EDUCATION" {
		t.Errorf("second section should start at EDUCATION, got %q", sections[1].Lines[0])
	}
	if sections[2].Lines[0] != "skills" {
		t.Errorf("third section should start at skills, got %q", sections[2].Lines[0])
	}
}

func TestGroupMergesSameRow(t *testing.T) {
	// Two fragments on the same visual row join left-to-right.
	frags := []Fragment{
		frag("Acme Corp", 1, 0.05, 0.30),
		frag("2019-2023", 1, 0.60, 0.301),
	}
	sections := Group(frags)
	if got := sections.LineCount(); got != 1 {
		t.Fatalf("expected one merged row, got %d lines", got)
	}
	line := sections[0].Lines[0]
	if line != "Acme Corp · 2019-2023" {
		t.Fatalf("row merge order wrong: %q", line)
	}
}

func TestGroupMultiPageOrdering(t *testing.T) {
	frags := []Fragment{
		frag("Page two line", 2, 0.05, 0.10),
		frag("Page one line", 1, 0.05, 0.90),
	}
	flat := Group(frags).Flatten()
	if strings.Index(flat, "Page one line") > strings.Index(flat, "Page two line") {
		t.Fatalf("page 1 content must precede page 2 content: %q", flat)
	}
}

func TestGroupZeroPageTreatedAsFirst(t *testing.T) {
	frags := []Fragment{
		frag("no page info", 0, 0.05, 0.10),
		frag("first page", 1, 0.05, 0.50),
	}
	sections := Group(frags)
	if got := sections.LineCount(); got != 2 {
		t.Fatalf("expected both fragments kept, got %d lines", got)
	}
}

func TestIsHeading(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"EDUCATION", true},
		{"WORK EXPERIENCE", true},
		{"projects", true},
		{"Jane worked at Acme for three years", false},
		{"AB", false}, // too short
		{"", false},
		{"Go", false},
	}
	for _, tc := range cases {
		r := row{text: tc.text}
		if got := isHeading(r); got != tc.want {
			t.Errorf("isHeading(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := median(nil, 0.012); got != 0.012 {
		t.Errorf("median of empty = %v, want default", got)
	}
	if got := median([]float64{3, 1, 2}, 0); got != 2 {
		t.Errorf("median odd = %v, want 2", got)
	}
	if got := median([]float64{1, 2, 3, 4}, 0); got != 2.5 {
		t.Errorf("median even = %v, want 2.5", got)
	}
}
