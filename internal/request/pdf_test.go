package request

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildPDF constructs a minimal but structurally valid PDF with the given
// number of empty pages, computing the cross reference table offsets as it
// goes.
func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()

	var objects []string

	kids := ""
	for i := 0; i < pages; i++ {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", 3+i)
	}

	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages),
	)
	for i := 0; i < pages; i++ {
		objects = append(objects,
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)

	return buf.Bytes()
}

func TestPageCount(t *testing.T) {
	for _, pages := range []int{1, 5} {
		data := buildPDF(t, pages)
		got, err := PageCount(data)
		require.NoError(t, err)
		require.Equal(t, pages, got)
	}
}

func TestPageCountMalformed(t *testing.T) {
	_, err := PageCount([]byte("%PDF-1.4 this is not a real document"))
	require.Error(t, err)
}

func TestFindTextBoxPageOutOfRange(t *testing.T) {
	data := buildPDF(t, 2)
	_, err := FindTextBox(data, 3, "anything")
	require.Error(t, err)
}

func TestFindTextBoxNotFound(t *testing.T) {
	data := buildPDF(t, 1)
	box, err := FindTextBox(data, 1, "missing text")
	require.NoError(t, err)
	require.Nil(t, box)
}

func TestBoxDimensions(t *testing.T) {
	b := Box{X1: 100, Y1: 150, X2: 300, Y2: 100}
	require.Equal(t, 200.0, b.Width())
	require.Equal(t, 50.0, b.Height())
	require.Equal(t, []int{100, 150, 300, 100}, b.Coords())
}
