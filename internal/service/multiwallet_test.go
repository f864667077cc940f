package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backstop-dashboard/internal/models"
	"github.com/backstop-dashboard/internal/types"
)

func TestGetPortfolioPnl_SumsWallets(t *testing.T) {
	f := newPnlFixture()
	f.addSupplyPosition("wallet-a")
	f.addSupplyPosition("wallet-b")
	svc := f.service()

	report, err := svc.GetPortfolioPnl(context.Background(), []string{"wallet-a", "wallet-b"}, PeriodOptions{
		From: "2024-03-01", To: "2024-03-05",
	})
	require.NoError(t, err)
	require.Len(t, report.Bars, 5)
	assert.Empty(t, report.Omissions)

	// Two identical wallets contribute twice the single-wallet yield
	var total float64
	for _, b := range report.Bars {
		total += b.SupplyYield
	}
	assert.InDelta(t, 10, total, 1e-9)
	assert.InDelta(t, 10, report.Bars[4].SupplyYield, 1e-9)

	// Bars come back in chronological order
	for i := 1; i < len(report.Bars); i++ {
		assert.True(t, report.Bars[i-1].PeriodStart.Before(report.Bars[i].PeriodStart))
	}
}

func TestGetPortfolioPnl_ActiveFilterExcludesWallet(t *testing.T) {
	f := newPnlFixture()
	f.addSupplyPosition("wallet-a")
	f.addSupplyPosition("wallet-b")
	svc := f.service()

	key := types.PositionKey{PoolID: testPool, AssetAddress: testAsset}
	report, err := svc.GetPortfolioPnl(context.Background(), []string{"wallet-a", "wallet-b"}, PeriodOptions{
		ReportOptions: ReportOptions{
			ActiveFilter: map[types.PositionKey][]string{key: {"wallet-a"}},
		},
		From: "2024-03-01", To: "2024-03-05",
	})
	require.NoError(t, err)

	// wallet-b is not active for the position: its events and balances
	// contribute nothing
	var total float64
	for _, b := range report.Bars {
		total += b.SupplyYield
	}
	assert.InDelta(t, 5, total, 1e-9)
}

func TestGetPortfolioPnl_FailedWalletOmitted(t *testing.T) {
	f := newPnlFixture()
	f.addSupplyPosition("wallet-a")
	f.events.actionsErr["wallet-c"] = errors.New("clickhouse down")
	svc := f.service()

	report, err := svc.GetPortfolioPnl(context.Background(), []string{"wallet-a", "wallet-c"}, PeriodOptions{
		From: "2024-03-01", To: "2024-03-05",
	})
	require.NoError(t, err)
	require.Len(t, report.Bars, 5)

	require.Len(t, report.Omissions, 1)
	assert.Contains(t, report.Omissions[0], "wallet wallet-c excluded")

	var total float64
	for _, b := range report.Bars {
		total += b.SupplyYield
	}
	assert.InDelta(t, 5, total, 1e-9)
}

func TestGetPortfolioPnl_AllWalletsFailed(t *testing.T) {
	f := newPnlFixture()
	f.events.actionsErr["wallet-a"] = errors.New("down")
	f.events.actionsErr["wallet-b"] = errors.New("down")
	svc := f.service()

	_, err := svc.GetPortfolioPnl(context.Background(), []string{"wallet-a", "wallet-b"}, PeriodOptions{
		From: "2024-03-01", To: "2024-03-05",
	})
	require.Error(t, err)
}

func TestGetPortfolioPnl_NoAddresses(t *testing.T) {
	svc := newPnlFixture().service()

	_, err := svc.GetPortfolioPnl(context.Background(), nil, PeriodOptions{})
	require.Error(t, err)
	var svcErr *types.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "MISSING_PARAMETER", svcErr.Code)
}

func TestGetPortfolioPnl_DefaultWindowFromConfig(t *testing.T) {
	f := newPnlFixture()
	f.addSupplyPosition("wallet-a")
	svc := f.service()
	svc.cfg.DefaultRangeDays = 5

	report, err := svc.GetPortfolioPnl(context.Background(), []string{"wallet-a"}, PeriodOptions{})
	require.NoError(t, err)
	require.Len(t, report.Bars, 5)
	assert.Equal(t, types.DateKey("2024-03-06"), report.Bars[0].PeriodStart)
	assert.Equal(t, types.DateKey("2024-03-10"), report.Bars[4].PeriodEnd)
	assert.True(t, report.Bars[4].IsLive)
}

func TestGetPortfolioPnl_MidWindowWallet(t *testing.T) {
	f := newPnlFixture()
	f.addSupplyPosition("wallet-a")
	// wallet-b's history starts inside the window: it only contributes to
	// the bars it covers, and must not shift wallet-a's bar boundaries
	f.events.actions["wallet-b"] = []models.Event{
		action(day(3), 10, types.ActionSupply, testAsset, 50),
	}
	f.snaps.balances[storeKey("wallet-b", testPool, testAsset)] = f.snaps.balances[storeKey("wallet-a", testPool, testAsset)]
	svc := f.service()

	report, err := svc.GetPortfolioPnl(context.Background(), []string{"wallet-a", "wallet-b"}, PeriodOptions{
		From: "2024-03-01", To: "2024-03-05",
	})
	require.NoError(t, err)
	require.Len(t, report.Bars, 5)
	assert.Equal(t, types.DateKey("2024-03-01"), report.Bars[0].PeriodStart)
	assert.Equal(t, types.DateKey("2024-03-05"), report.Bars[4].PeriodEnd)
}
