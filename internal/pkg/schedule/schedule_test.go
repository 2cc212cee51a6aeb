package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{in: "Saturday", want: time.Saturday},
		{in: "  monday ", want: time.Monday},
		{in: "WED", want: time.Wednesday},
		{in: "thurs", want: time.Thursday},
		{in: "mo", wantErr: true},
		{in: "funday", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeekday(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalDay(t *testing.T) {
	got, err := CanonicalDay("sat")
	require.NoError(t, err)
	assert.Equal(t, "Saturday", got)
}

func TestNextDeliveryDate(t *testing.T) {
	// Wednesday afternoon.
	from := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

	got, err := NextDeliveryDate("Saturday", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), got)

	got, err = NextDeliveryDate("Monday", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), got)

	// Same weekday rolls over to next week.
	got, err = NextDeliveryDate("Wednesday", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), got)

	_, err = NextDeliveryDate("someday", from)
	assert.Error(t, err)
}

func TestFollowingDelivery(t *testing.T) {
	got := FollowingDelivery(time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), got)
}
