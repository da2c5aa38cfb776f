package notifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFormatWakeTime covers the seconds-only and minutes forms.
func TestFormatWakeTime(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{
		0:   "0s",
		45:  "45s",
		60:  "1m 0s",
		192: "3m 12s",
	}
	for wakeSeconds, expected := range cases {
		require.Equal(t, expected, FormatWakeTime(wakeSeconds))
	}
}
