package signing

import "strings"

// Helvetica character advance widths in thousandths of the font size, from
// the standard Adobe font metrics. Index is the ASCII code point; characters
// outside the table fall back to defaultGlyphWidth.
var helveticaWidths = [127]int{
	' ': 278, '!': 278, '"': 355, '#': 556, '$': 556, '%': 889, '&': 667,
	'\'': 191, '(': 333, ')': 333, '*': 389, '+': 584, ',': 278, '-': 333,
	'.': 278, '/': 278,
	'0': 556, '1': 556, '2': 556, '3': 556, '4': 556,
	'5': 556, '6': 556, '7': 556, '8': 556, '9': 556,
	':': 278, ';': 278, '<': 584, '=': 584, '>': 584, '?': 556, '@': 1015,
	'A': 667, 'B': 667, 'C': 722, 'D': 722, 'E': 667, 'F': 611, 'G': 778,
	'H': 722, 'I': 278, 'J': 500, 'K': 667, 'L': 556, 'M': 833, 'N': 722,
	'O': 778, 'P': 667, 'Q': 778, 'R': 722, 'S': 667, 'T': 611, 'U': 722,
	'V': 667, 'W': 944, 'X': 667, 'Y': 667, 'Z': 611,
	'[': 278, '\\': 278, ']': 278, '^': 469, '_': 556, '`': 333,
	'a': 556, 'b': 556, 'c': 500, 'd': 556, 'e': 556, 'f': 278, 'g': 556,
	'h': 556, 'i': 222, 'j': 222, 'k': 500, 'l': 222, 'm': 833, 'n': 556,
	'o': 556, 'p': 556, 'q': 556, 'r': 333, 's': 500, 't': 278, 'u': 556,
	'v': 500, 'w': 722, 'x': 500, 'y': 500, 'z': 500,
	'{': 334, '|': 260, '}': 334, '~': 584,
}

const defaultGlyphWidth = 556

const (
	minFontSize  = 1
	baseFontSize = 10
	maxFontSize  = 100
)

// StringWidth measures text rendered in Helvetica at the given size, in
// points.
func StringWidth(text string, fontSize int) float64 {
	total := 0
	for _, r := range text {
		if r >= 0 && int(r) < len(helveticaWidths) && helveticaWidths[r] != 0 {
			total += helveticaWidths[r]
		} else {
			total += defaultGlyphWidth
		}
	}
	return float64(total) * float64(fontSize) / 1000.0
}

// WrapText splits text into lines no wider than boxWidth at the given font
// size, breaking on spaces. A single word wider than the box still gets its
// own line.
func WrapText(text string, fontSize int, boxWidth float64) []string {
	var lines []string
	spaceWidth := StringWidth(" ", fontSize)

	for _, paragraph := range strings.Split(text, "\n") {
		var current []string
		lineWidth := 0.0

		for _, word := range strings.Fields(paragraph) {
			wordWidth := StringWidth(word, fontSize)
			if len(current) > 0 && lineWidth+spaceWidth+wordWidth > boxWidth {
				lines = append(lines, strings.Join(current, " "))
				current = []string{word}
				lineWidth = wordWidth
				continue
			}
			if len(current) > 0 {
				lineWidth += spaceWidth
			}
			current = append(current, word)
			lineWidth += wordWidth
		}
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

// FitFontSize finds the largest font size that lets text fit the box: grow
// from the base size until a single line would overflow the width, then
// shrink until the wrapped lines fit the height. Never returns less than
// the minimum size.
func FitFontSize(text string, boxWidth, boxHeight float64) int {
	fontSize := baseFontSize
	for fontSize <= maxFontSize {
		if StringWidth(text, fontSize) > boxWidth {
			break
		}
		fontSize++
	}
	fontSize--
	if fontSize < minFontSize {
		fontSize = minFontSize
	}

	for fontSize > minFontSize {
		lines := WrapText(text, fontSize, boxWidth)
		lineHeight := float64(fontSize + 2)
		if float64(len(lines))*lineHeight <= boxHeight {
			break
		}
		fontSize--
	}
	return fontSize
}
