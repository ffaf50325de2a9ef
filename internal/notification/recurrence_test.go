package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1d", 24 * time.Hour},
		{"2d", 48 * time.Hour},
		{"12h", 12 * time.Hour},
		{"30m", 30 * time.Minute},
		{"45s", 45 * time.Second},
		{"daily", 24 * time.Hour},
		{"Weekly", 7 * 24 * time.Hour},
		{"monthly", 30 * 24 * time.Hour},
		{" 3H ", 3 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIntervalRejects(t *testing.T) {
	for _, in := range []string{"", "d", "0d", "-1h", "5w", "abc", "1.5h", "fortnightly"} {
		_, err := ParseInterval(in)
		assert.Error(t, err, in)
	}
}
