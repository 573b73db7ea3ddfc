// Package grouping turns positioned text fragments from document analysis
// into ordered logical sections. It is pure and deterministic: the same
// fragment sequence always yields the same sections, and every input
// fragment lands in exactly one section with its relative order preserved.
package grouping

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Fragment is one positioned line of text on a document page. Coordinates
// are page-relative ratios in [0,1], as reported by layout analysis.
type Fragment struct {
	Text   string
	Page   int
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Section is an ordered run of lines under a stable numeric key.
type Section struct {
	Key   string
	Lines []string
}

// Sections is the grouped output, ordered by key.
type Sections []Section

// Flatten joins all lines in section order into one text blob, the shape
// the normalizer consumes.
func (s Sections) Flatten() string {
	var b strings.Builder
	for _, sec := range s {
		for _, line := range sec.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// LineCount returns the total number of lines across all sections.
func (s Sections) LineCount() int {
	n := 0
	for _, sec := range s {
		n += len(sec.Lines)
	}
	return n
}

type line struct {
	text    string
	page    int
	left    float64
	top     float64
	height  float64
	bottom  float64
	centerY float64
}

type row struct {
	text    string
	left    float64
	top     float64
	bottom  float64
	height  float64
	centerY float64
}

// Group buckets fragments per page, clusters lines into visual rows, and
// starts a new section at each detected heading. Section keys are "1".."N"
// in page-then-vertical order.
func Group(fragments []Fragment) Sections {
	lines := extractLines(fragments)
	if len(lines) == 0 {
		return nil
	}

	pages := map[int][]line{}
	for _, ln := range lines {
		pages[ln.page] = append(pages[ln.page], ln)
	}
	pageOrder := make([]int, 0, len(pages))
	for p := range pages {
		pageOrder = append(pageOrder, p)
	}
	sort.Ints(pageOrder)

	var out Sections
	idx := 1
	for _, p := range pageOrder {
		rows := rowsFromLines(pages[p])
		for _, sec := range groupRows(rows) {
			out = append(out, Section{Key: strconv.Itoa(idx), Lines: sec})
			idx++
		}
	}
	return out
}

func extractLines(fragments []Fragment) []line {
	lines := make([]line, 0, len(fragments))
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		page := f.Page
		if page < 1 {
			page = 1
		}
		lines = append(lines, line{
			text:    text,
			page:    page,
			left:    f.Left,
			top:     f.Top,
			height:  f.Height,
			bottom:  f.Top + f.Height,
			centerY: f.Top + f.Height/2,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].page != lines[j].page {
			return lines[i].page < lines[j].page
		}
		if lines[i].centerY != lines[j].centerY {
			return lines[i].centerY < lines[j].centerY
		}
		return lines[i].left < lines[j].left
	})
	return lines
}

// rowsFromLines clusters lines whose vertical centers fall within half the
// median line height of the running row center.
func rowsFromLines(lines []line) []row {
	if len(lines) == 0 {
		return nil
	}
	sorted := make([]line, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].centerY < sorted[j].centerY })

	heights := make([]float64, len(sorted))
	for i, ln := range sorted {
		heights[i] = ln.height
	}
	medianHeight := median(heights, 0.012)
	yTol := medianHeight * 0.5
	if yTol < 0.003 {
		yTol = 0.003
	}

	var rows []row
	var current []line
	var currentCenter float64

	flush := func() {
		if len(current) == 0 {
			return
		}
		sort.SliceStable(current, func(i, j int) bool { return current[i].left < current[j].left })
		texts := make([]string, len(current))
		top := current[0].top
		bottom := current[0].bottom
		left := current[0].left
		for i, ln := range current {
			texts[i] = ln.text
			if ln.top < top {
				top = ln.top
			}
			if ln.bottom > bottom {
				bottom = ln.bottom
			}
			if ln.left < left {
				left = ln.left
			}
		}
		rows = append(rows, row{
			text:    strings.Join(texts, " · "),
			left:    left,
			top:     top,
			bottom:  bottom,
			height:  bottom - top,
			centerY: (top + bottom) / 2,
		})
	}

	for _, ln := range sorted {
		if len(current) == 0 {
			current = []line{ln}
			currentCenter = ln.centerY
			continue
		}
		if abs(ln.centerY-currentCenter) <= yTol {
			current = append(current, ln)
			sum := 0.0
			for _, c := range current {
				sum += c.centerY
			}
			currentCenter = sum / float64(len(current))
		} else {
			flush()
			current = []line{ln}
			currentCenter = ln.centerY
		}
	}
	flush()

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].centerY != rows[j].centerY {
			return rows[i].centerY < rows[j].centerY
		}
		return rows[i].left < rows[j].left
	})
	return rows
}

var headingKeywords = map[string]struct{}{
	"education":       {},
	"skills":          {},
	"projects":        {},
	"experience":      {},
	"work experience": {},
	"certifications":  {},
	"summary":         {},
	"objective":       {},
	"profile":         {},
	"contact":         {},
}

// isHeading flags rows that look like section titles: mostly-uppercase
// short text, or a known resume section keyword.
func isHeading(r row) bool {
	txt := strings.TrimSpace(r.text)
	if txt == "" {
		return false
	}
	letters, upper := 0, 0
	for _, c := range txt {
		if unicode.IsLetter(c) {
			letters++
			if unicode.IsUpper(c) {
				upper++
			}
		}
	}
	if letters > 0 && float64(upper)/float64(letters) >= 0.7 && len(txt) >= 3 && len(txt) <= 64 {
		return true
	}
	_, ok := headingKeywords[strings.ToLower(txt)]
	return ok
}

func groupRows(rows []row) [][]string {
	if len(rows) == 0 {
		return nil
	}
	var groups [][]string
	for _, r := range rows {
		if isHeading(r) || len(groups) == 0 {
			groups = append(groups, []string{r.text})
		} else {
			groups[len(groups)-1] = append(groups[len(groups)-1], r.text)
		}
	}
	return groups
}

func median(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

