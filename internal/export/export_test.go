package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeHistory struct {
	all map[string][]domain.HistoryRecord
	err error
}

func (f fakeHistory) LoadAll(context.Context) (map[string][]domain.HistoryRecord, error) {
	return f.all, f.err
}

func record(address string, ts time.Time, sol, wsol string) domain.HistoryRecord {
	s := decimal.RequireFromString(sol)
	w := decimal.RequireFromString(wsol)
	return domain.HistoryRecord{Timestamp: ts, Address: address, SOL: s, WSOL: w, Total: s.Add(w)}
}

func TestExporter_Write(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	history := fakeHistory{all: map[string][]domain.HistoryRecord{
		"addrA": {
			record("addrA", t0, "1.5", "0"),
			record("addrA", t0.Add(time.Minute), "2", "0.25"),
		},
		"orphan": {record("orphan", t0, "3", "0")},
	}}
	wallets := []domain.Wallet{
		{Address: "addrA", Name: "main"},
		{Address: "addrB", Name: "cold/storage"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewExporter(history).Write(context.Background(), wallets, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Wallets", "main", "cold_storage", "orphan"}, f.GetSheetList())

	summary, err := f.GetRows("Wallets", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"main", "addrA", "2", "0.25", "2.25"}, summary[1][:5])
	assert.Equal(t, "2", summary[1][6])
	assert.Equal(t, "0", summary[2][len(summary[2])-1])
	assert.Equal(t, "orphan", summary[3][0])

	rows, err := f.GetRows("main", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Timestamp", "SOL", "WSOL", "Total"}, rows[0])
	assert.Equal(t, []string{"1.5", "0", "1.5"}, rows[1][1:])

	empty, err := f.GetRows("cold_storage")
	require.NoError(t, err)
	assert.Len(t, empty, 1)
}

func TestExporter_LoadFailure(t *testing.T) {
	var buf bytes.Buffer
	err := NewExporter(fakeHistory{err: errors.New("disk gone")}).Write(context.Background(), nil, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load history")
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{"wallets": true}

	assert.Equal(t, "Wallets_2", sheetName("Wallets", used))
	assert.Equal(t, "a_b", sheetName("a[b", used))
	assert.Equal(t, "wallet", sheetName("''", used))
	assert.Equal(t, "A_B_2", sheetName("A:B", used))

	long := strings.Repeat("x", 40)
	first := sheetName(long, used)
	second := sheetName(long, used)
	assert.Len(t, first, excelize.MaxSheetNameLength)
	assert.Len(t, second, excelize.MaxSheetNameLength)
	assert.True(t, strings.HasSuffix(second, "_2"))
}
