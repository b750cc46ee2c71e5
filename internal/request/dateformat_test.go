package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateLayout(t *testing.T) {
	ref := time.Date(2024, time.November, 22, 15, 30, 45, 0, time.UTC)

	tests := []struct {
		format string
		want   string
	}{
		{"dd-MMM-yyyy", "22-Nov-2024"},
		{"dd-MMM-yyyy HH:mm:ss", "22-Nov-2024 15:30:45"},
		{"dd-MMM-yyyy hh:mm:ss a", "22-Nov-2024 03:30:45 PM"},
		{"yyyy-MM-dd", "2024-11-22"},
		{"dd/MM/yyyy", "22/11/2024"},
		{"MMMM dd, yyyy", "November 22, 2024"},
		{"dd-MMM-yyyy EEEE", "22-Nov-2024 Friday"},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			require.Equal(t, tc.want, ref.Format(DateLayout(tc.format)))
		})
	}
}

func TestDateLayoutFallsBackToDefault(t *testing.T) {
	ref := time.Date(2024, time.November, 22, 15, 30, 45, 0, time.UTC)

	require.Equal(t, "22-Nov-2024 15:30:45", ref.Format(DateLayout("")))
	require.Equal(t, "22-Nov-2024 15:30:45", ref.Format(DateLayout("not-a-format")))
	require.False(t, KnownDateFormat("not-a-format"))
	require.True(t, KnownDateFormat(DefaultDateFormat))
}
