package signing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringWidth(t *testing.T) {
	// Ten digits in Helvetica are 556 thousandths each.
	require.InDelta(t, 55.6, StringWidth("0123456789", 10), 0.001)

	// Width scales linearly with font size.
	require.InDelta(t, 2*StringWidth("Hello", 10), StringWidth("Hello", 20), 0.001)
}

func TestWrapText(t *testing.T) {
	t.Run("short text stays on one line", func(t *testing.T) {
		lines := WrapText("Date: today", 10, 500)
		require.Equal(t, []string{"Date: today"}, lines)
	})

	t.Run("newlines force breaks", func(t *testing.T) {
		lines := WrapText("first line\nsecond line", 10, 500)
		require.Equal(t, []string{"first line", "second line"}, lines)
	})

	t.Run("long text wraps to width", func(t *testing.T) {
		text := strings.Repeat("word ", 40)
		lines := WrapText(text, 10, 100)
		require.Greater(t, len(lines), 1)
		for _, line := range lines {
			require.LessOrEqual(t, StringWidth(line, 10), 100.0)
		}
	})
}

func TestFitFontSize(t *testing.T) {
	t.Run("wrapped height fits the box", func(t *testing.T) {
		text := "Digitally Signed by: Asha Patel\nDate: 22-Nov-2024 15:30:45\n" +
			"Reason: Quarterly compliance approval for the finance department\n" +
			"Location: Mumbai"

		boxWidth, boxHeight := 200.0, 100.0
		size := FitFontSize(text, boxWidth, boxHeight)
		require.GreaterOrEqual(t, size, 1)

		lines := WrapText(text, size, boxWidth)
		require.LessOrEqual(t, float64(len(lines))*float64(size+2), boxHeight)
	})

	t.Run("tiny box floors at one", func(t *testing.T) {
		text := strings.Repeat("overflowing attestation text ", 20)
		require.Equal(t, 1, FitFontSize(text, 10, 5))
	})

	t.Run("large box grows the size", func(t *testing.T) {
		size := FitFontSize("Signed", 1000, 500)
		require.Greater(t, size, 10)
	})
}
