package request

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/digitorus/pdf"
)

// Signature box padding around a matched text run, in PDF points.
const (
	boxPaddingX      = 10
	boxPaddingTop    = 12
	boxPaddingBottom = 50
)

// Box is a signature rectangle in PDF user-space coordinates.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Width of the box in points.
func (b Box) Width() float64 { return float64(b.X2 - b.X1) }

// Height of the box in points.
func (b Box) Height() float64 {
	h := b.Y2 - b.Y1
	if h < 0 {
		h = -h
	}
	return float64(h)
}

// Coords returns the box as an [x1, y1, x2, y2] slice.
func (b Box) Coords() []int { return []int{b.X1, b.Y1, b.X2, b.Y2} }

// PageCount returns the number of pages in the document. The underlying
// parser panics on malformed input, so this recovers and reports an error
// instead.
func PageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return rdr.NumPage(), nil
}

// FindTextBox scans the given 1-based page for the first occurrence of
// search (case insensitive) and returns a signature box anchored on the
// matched run, padded horizontally and extended downward. A nil box with a
// nil error means the text was not found.
func FindTextBox(data []byte, page int, search string) (box *Box, err error) {
	defer func() {
		if r := recover(); r != nil {
			box, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}
	if page < 1 || page > rdr.NumPage() {
		return nil, fmt.Errorf("page %d out of range", page)
	}

	content := rdr.Page(page).Content()
	needle := strings.ToLower(search)

	for _, line := range groupLines(content.Text) {
		idx := strings.Index(strings.ToLower(line.text), needle)
		if idx < 0 {
			continue
		}
		x1, x2, top, bottom := line.span(idx, idx+len(needle))
		return &Box{
			X1: int(x1) - boxPaddingX,
			Y1: int(top) - boxPaddingTop,
			X2: int(x2) + boxPaddingX,
			Y2: int(bottom) + boxPaddingBottom,
		}, nil
	}
	return nil, nil
}

// textLine is a run of text fragments sharing a baseline.
type textLine struct {
	text  string
	parts []pdf.Text
	// starts[i] is the offset of parts[i].S within text.
	starts []int
}

// groupLines buckets text fragments by baseline Y and orders each bucket by
// X, rebuilding the visible line strings.
func groupLines(texts []pdf.Text) []textLine {
	byY := make(map[float64][]pdf.Text)
	for _, t := range texts {
		byY[t.Y] = append(byY[t.Y], t)
	}

	lines := make([]textLine, 0, len(byY))
	for _, parts := range byY {
		sort.Slice(parts, func(i, j int) bool { return parts[i].X < parts[j].X })

		var line textLine
		var sb strings.Builder
		for _, p := range parts {
			line.starts = append(line.starts, sb.Len())
			sb.WriteString(p.S)
		}
		line.text = sb.String()
		line.parts = parts
		lines = append(lines, line)
	}

	sort.Slice(lines, func(i, j int) bool {
		return lines[i].parts[0].Y > lines[j].parts[0].Y
	})
	return lines
}

// span returns the horizontal extent and vertical bounds of the fragments
// covering text offsets [from, to).
func (l textLine) span(from, to int) (x1, x2, top, bottom float64) {
	first := true
	for i, p := range l.parts {
		start := l.starts[i]
		end := start + len(p.S)
		if end <= from || start >= to {
			continue
		}
		if first {
			x1, x2 = p.X, p.X+p.W
			top = p.Y + p.FontSize
			bottom = p.Y
			first = false
			continue
		}
		if p.X < x1 {
			x1 = p.X
		}
		if p.X+p.W > x2 {
			x2 = p.X + p.W
		}
		if p.Y+p.FontSize > top {
			top = p.Y + p.FontSize
		}
		if p.Y < bottom {
			bottom = p.Y
		}
	}
	return x1, x2, top, bottom
}
