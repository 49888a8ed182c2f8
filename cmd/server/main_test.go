package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/store/sqlite"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFeeCommand(t *testing.T) {
	out, err := run(t, "fee", "--type", "percentage", "--rate", "0.0075", "--assets", "1000000", "--periods", "3")
	require.NoError(t, err)
	assert.Equal(t, "$22,500.00\n", out)

	out, err = run(t, "fee", "--type", "flat", "--rate", "2500")
	require.NoError(t, err)
	assert.Equal(t, "$2,500.00\n", out)

	_, err = run(t, "fee", "--type", "percentage", "--rate", "0.0075")
	assert.ErrorIs(t, err, billing.ErrComputationUnavailable)

	_, err = run(t, "fee", "--type", "hourly", "--rate", "1")
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestStatusCommand(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "fees.db")

	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	client, err := store.CreateClient(ctx, sqlite.Client{DisplayName: "Acme 401k"})
	require.NoError(t, err)
	_, err = store.CreateContract(ctx, sqlite.Contract{
		ClientID: client.ID, FeeType: billing.FeeFlat,
		FlatRate: decimal.NewNullDecimal(decimal.NewFromInt(500)), Schedule: billing.ScheduleMonthly,
	})
	require.NoError(t, err)
	rec, err := billing.NewPreparer(store).Prepare(ctx, billing.PaymentRequest{
		ClientID: client.ID, ReceivedDate: "2024-03-04",
		ActualFee: decimal.NewNullDecimal(decimal.NewFromInt(500)), Period: "Feb 2024",
	})
	require.NoError(t, err)
	_, err = store.CreatePayment(ctx, rec)
	require.NoError(t, err)
	_, err = store.CreateClient(ctx, sqlite.Client{DisplayName: "Zeta"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "status", "--db", dbPath, "--as-of", "2024-05-10")
	require.NoError(t, err)
	assert.Contains(t, out, "Payment status as of 05/10/2024")
	assert.Regexp(t, `Acme 401k\s+monthly\s+Due\s+Feb 2024\s+Mar 2024, Apr 2024`, out)
	assert.Regexp(t, `Zeta\s+-\s+no contract`, out)

	_, err = run(t, "status", "--db", dbPath, "--as-of", "May 10")
	assert.Error(t, err)
}
