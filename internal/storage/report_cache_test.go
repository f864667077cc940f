package storage

import (
	"testing"
	"time"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCache_SetGet(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := testContext(t)

	rc := NewReportCache(cache, time.Minute)
	key := rc.Key("periods", "0xabc", "2026-01-01", "2026-01-31", "UTC")

	report := models.PeriodReport{
		Address:     "0xabc",
		Granularity: types.GranularityDaily,
		Timezone:    "UTC",
		Bars: []models.PeriodBar{
			{
				PeriodStart: "2026-01-01",
				PeriodEnd:   "2026-01-01",
				SupplyYield: 12.5,
				Total:       12.5,
			},
		},
	}

	require.NoError(t, rc.Set(ctx, key, report))

	var got models.PeriodReport
	ok, err := rc.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.Address, got.Address)
	require.Len(t, got.Bars, 1)
	assert.Equal(t, 12.5, got.Bars[0].SupplyYield)
}

func TestReportCache_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := testContext(t)

	rc := NewReportCache(cache, time.Minute)

	var got models.PeriodReport
	ok, err := rc.Get(ctx, rc.Key("periods", "0xdef", "2026-01-01", "2026-01-31", "UTC"), &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportCache_Expiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := testContext(t)

	rc := NewReportCache(cache, 50*time.Millisecond)
	key := rc.Key("daily", "0xabc", "2026-01-01", "2026-01-31", "UTC")

	require.NoError(t, rc.Set(ctx, key, models.DailyPnlReport{Address: "0xabc"}))

	mr.FastForward(time.Second)

	var got models.DailyPnlReport
	ok, err := rc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")
}

func TestReportCache_CorruptEntry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := testContext(t)

	rc := NewReportCache(cache, time.Minute)
	key := rc.Key("periods", "0xabc", "2026-01-01", "2026-01-31", "UTC")
	mr.Set(key, "{not json")

	var got models.PeriodReport
	ok, err := rc.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt entry should read as a miss")
}
