package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func fullMapper() *ledger.StaticMapper {
	mapper := ledger.NewStaticMapper()
	mapper.Set("BASE_SALARY", "g1", ledger.AccountMapping{DebitAccount: "5100", CostCenter: "CC-PAY"})
	mapper.Set("BONUS", "g1", ledger.AccountMapping{DebitAccount: "5200", CostCenter: "CC-PAY"})
	mapper.Set("TAX", "g1", ledger.AccountMapping{CreditAccount: "2100"})
	mapper.Set("HEALTH", "g1", ledger.AccountMapping{DebitAccount: "5300", CreditAccount: "2300"})
	mapper.Set(ledger.NetPayCode, "g1", ledger.AccountMapping{CreditAccount: "2500"})
	return mapper
}

func money(amount float64) payroll.Money { return payroll.NewMoney(amount, "USD") }

func testRun() *payroll.PayrollRun {
	return &payroll.PayrollRun{ID: "run-1", GroupID: "g1", State: payroll.RunApproved}
}

// testResults: gross 1000, bonus 100, tax 110, a 50 employer benefit, net 990.
func testResults() []payroll.RunEmployee {
	return []payroll.RunEmployee{{
		RunID:      "run-1",
		EmployeeID: "emp-1",
		Gross:      decimal.NewFromInt(1000),
		Earnings:   decimal.NewFromInt(100),
		Deductions: decimal.NewFromInt(110),
		Net:        decimal.NewFromInt(990),
		Lines: []payroll.LineItem{
			{Kind: payroll.KindEarning, Code: "BONUS", Description: "bonus", Amount: money(100), Position: 0},
			{Kind: payroll.KindDeduction, Code: "TAX", Description: "tax", Amount: money(110), Position: 1},
			{Kind: payroll.KindBenefit, Code: "HEALTH", Description: "health", Amount: money(50), Position: 2},
		},
	}}
}

// =============================================================================
// BUILD AND BALANCE TESTS
// =============================================================================

func TestBuild_BalancedVoucher(t *testing.T) {
	// GIVEN: A full mapping table and one employee's results
	// WHEN: Building the voucher
	// THEN: Complete, and debits equal credits to the cent

	builder := &ledger.Builder{Mapper: fullMapper()}
	v, err := builder.Build(context.Background(), testRun(), testResults())
	require.NoError(t, err)

	assert.True(t, v.Complete())
	require.NoError(t, v.Validate())
	assert.True(t, v.Balance().IsZero(), "balance: %s", v.Balance())

	// base debit, bonus debit, tax credit, benefit debit+credit, net credit
	require.Len(t, v.Lines, 6)

	var debits, credits decimal.Decimal
	for _, line := range v.Lines {
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	assert.Equal(t, "1150.00", debits.StringFixed(2))
	assert.Equal(t, "1150.00", credits.StringFixed(2))
}

func TestBuild_BenefitPairsDebitAndCredit(t *testing.T) {
	// GIVEN: A benefit line mapped to an expense and a liability account
	// WHEN: Building
	// THEN: The benefit produces matching debit and credit lines

	builder := &ledger.Builder{Mapper: fullMapper()}
	v, err := builder.Build(context.Background(), testRun(), testResults())
	require.NoError(t, err)

	var health []ledger.Line
	for _, line := range v.Lines {
		if line.ConceptCode == "HEALTH" {
			health = append(health, line)
		}
	}
	require.Len(t, health, 2)
	assert.Equal(t, "5300", health[0].Account)
	assert.Equal(t, "50.00", health[0].Debit.StringFixed(2))
	assert.Equal(t, "2300", health[1].Account)
	assert.Equal(t, "50.00", health[1].Credit.StringFixed(2))
}

func TestSummarize_AggregatesByAccount(t *testing.T) {
	// GIVEN: A complete voucher
	// WHEN: Summarizing
	// THEN: One row per account, sorted, with aggregate amounts

	builder := &ledger.Builder{Mapper: fullMapper()}
	v, err := builder.Build(context.Background(), testRun(), testResults())
	require.NoError(t, err)

	rows, err := v.Summarize()
	require.NoError(t, err)
	require.Len(t, rows, 6)

	accounts := make([]string, len(rows))
	for i, row := range rows {
		accounts[i] = row.Account
	}
	assert.Equal(t, []string{"2100", "2300", "2500", "5100", "5200", "5300"}, accounts)

	assert.Equal(t, "990.00", rows[2].Credit.StringFixed(2), "net payable")
	assert.Equal(t, "1000.00", rows[3].Debit.StringFixed(2), "base salary expense")
	assert.Equal(t, "CC-PAY", rows[3].CostCenter)
}

// =============================================================================
// DEGRADED MODE TESTS
// =============================================================================

func TestBuild_MissingMappingDegrades(t *testing.T) {
	// GIVEN: The TAX mapping is absent
	// WHEN: Building
	// THEN: A warning instead of an error; summary refused, detail available

	mapper := fullMapper()
	incomplete := ledger.NewStaticMapper()
	for _, code := range []payroll.ConceptCode{"BASE_SALARY", "BONUS", "HEALTH", ledger.NetPayCode} {
		mapping, ok, _ := mapper.AccountFor(context.Background(), code, "g1")
		require.True(t, ok)
		incomplete.Set(code, "g1", mapping)
	}

	builder := &ledger.Builder{Mapper: incomplete}
	v, err := builder.Build(context.Background(), testRun(), testResults())
	require.NoError(t, err)

	assert.False(t, v.Complete())
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, "missing_account_mapping", v.Warnings[0].Code)

	err = v.Validate()
	assert.ErrorIs(t, err, ledger.ErrIncompleteConfiguration)

	_, err = v.Summarize()
	assert.ErrorIs(t, err, ledger.ErrIncompleteConfiguration)

	// Audit export never blocks.
	assert.Len(t, v.Explode(), 5)
}

func TestValidate_DistinguishesImbalance(t *testing.T) {
	// GIVEN: A fully mapped voucher whose amounts do not balance
	// WHEN: Validating
	// THEN: An ImbalanceError, not an incomplete-configuration error

	v := &ledger.Voucher{
		RunID: "run-1",
		Lines: []ledger.Line{
			{Account: "5100", Debit: decimal.NewFromInt(100)},
			{Account: "2500", Credit: decimal.NewFromInt(99)},
		},
	}

	err := v.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrVoucherImbalance)
	assert.NotErrorIs(t, err, ledger.ErrIncompleteConfiguration)

	var imbalance *ledger.ImbalanceError
	require.ErrorAs(t, err, &imbalance)
	assert.Equal(t, "1.00", imbalance.Difference.StringFixed(2))
}

func TestMapper_ScopeFallback(t *testing.T) {
	// GIVEN: A scope-less default mapping and a group override
	// WHEN: Resolving for a group with and without an override
	// THEN: The override wins where present; the default otherwise

	mapper := ledger.NewStaticMapper()
	mapper.Set("BASE_SALARY", "", ledger.AccountMapping{DebitAccount: "5000"})
	mapper.Set("BASE_SALARY", "g1", ledger.AccountMapping{DebitAccount: "5100"})

	scoped, ok, err := mapper.AccountFor(context.Background(), "BASE_SALARY", "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5100", scoped.DebitAccount)

	fallback, ok, err := mapper.AccountFor(context.Background(), "BASE_SALARY", "g2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5000", fallback.DebitAccount)
}

// =============================================================================
// APPROVAL HOOK TESTS
// =============================================================================

func TestBalanceCheck_ReadsPersistedResults(t *testing.T) {
	// GIVEN: Results persisted in a store and a complete mapping table
	// WHEN: Running the approval hook
	// THEN: It validates from storage without re-running any calculation

	mem := store.NewMemory()
	ctx := context.Background()
	for _, result := range testResults() {
		require.NoError(t, mem.SaveEmployeeResult(ctx, result))
	}

	builder := &ledger.Builder{Mapper: fullMapper()}
	check := builder.BalanceCheck(mem)
	assert.NoError(t, check(ctx, testRun()))

	// With a gap in configuration the same hook refuses approval.
	degraded := &ledger.Builder{Mapper: ledger.NewStaticMapper()}
	err := degraded.BalanceCheck(mem)(ctx, testRun())
	assert.ErrorIs(t, err, ledger.ErrIncompleteConfiguration)
}
