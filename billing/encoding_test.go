package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-tracker/billing"
)

func intPtr(v int) *int { return &v }

func TestEncodeSpan_DecodeRoundTrip(t *testing.T) {
	spans := []billing.Span{
		billing.SinglePeriod(billing.Month(1, 2024)),
		{Start: billing.Month(11, 2023), End: billing.Month(2, 2024)},
		billing.SinglePeriod(billing.Quarter(4, 2023)),
		{Start: billing.Quarter(3, 2023), End: billing.Quarter(2, 2024)},
	}

	for _, s := range spans {
		t.Run(s.String(), func(t *testing.T) {
			applied := billing.EncodeSpan(s)

			schedule, ok := applied.Schedule()
			require.True(t, ok)
			assert.Equal(t, s.Schedule(), schedule)

			got, ok, err := applied.Decode(schedule)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, s, got)
		})
	}
}

func TestAppliedPeriods_Decode(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok, err := billing.AppliedPeriods{}.Decode(billing.ScheduleMonthly)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other schedule populated", func(t *testing.T) {
		applied := billing.EncodeSpan(billing.SinglePeriod(billing.Quarter(1, 2024)))
		_, _, err := applied.Decode(billing.ScheduleMonthly)
		assert.ErrorIs(t, err, billing.ErrScheduleMismatch)
	})

	t.Run("partial fields", func(t *testing.T) {
		applied := billing.AppliedPeriods{StartMonth: intPtr(1), StartMonthYear: intPtr(2024)}
		_, _, err := applied.Decode(billing.ScheduleMonthly)
		assert.ErrorIs(t, err, billing.ErrInvalidSpan)
	})

	t.Run("reversed span", func(t *testing.T) {
		applied := billing.AppliedPeriods{
			StartMonth: intPtr(5), StartMonthYear: intPtr(2024),
			EndMonth: intPtr(1), EndMonthYear: intPtr(2024),
		}
		_, _, err := applied.Decode(billing.ScheduleMonthly)
		assert.ErrorIs(t, err, billing.ErrInvalidSpan)
	})

	t.Run("mixed fields have no schedule", func(t *testing.T) {
		applied := billing.AppliedPeriods{StartMonth: intPtr(1), StartQuarter: intPtr(1)}
		_, ok := applied.Schedule()
		assert.False(t, ok)
	})
}

func TestDecodeLastPaid(t *testing.T) {
	p, err := billing.DecodeLastPaid(billing.ScheduleQuarterly, intPtr(7), intPtr(2024), intPtr(2), intPtr(2024))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, billing.Quarter(2, 2024), *p)

	p, err = billing.DecodeLastPaid(billing.ScheduleMonthly, nil, nil, intPtr(2), intPtr(2024))
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = billing.DecodeLastPaid(billing.ScheduleMonthly, intPtr(13), intPtr(2024), nil, nil)
	assert.ErrorIs(t, err, billing.ErrParse)
}
