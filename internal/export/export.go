// Package export writes the balance history into an xlsx workbook.
package export

import (
	"context"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Wallets"
	balanceFmt   = "0.000000000"
	dateFmt      = "yyyy-mm-dd hh:mm:ss"
)

var (
	summaryHeader = []any{"Name", "Address", "SOL", "WSOL", "Total", "Last update", "Points"}
	historyHeader = []any{"Timestamp", "SOL", "WSOL", "Total"}
)

type historyReader interface {
	LoadAll(ctx context.Context) (map[string][]domain.HistoryRecord, error)
}

// Exporter builds one summary sheet plus one sheet per wallet.
type Exporter struct {
	history historyReader
}

// NewExporter creates an Exporter over a history log.
func NewExporter(history historyReader) *Exporter {
	return &Exporter{history: history}
}

// Save writes the workbook to path.
func (e *Exporter) Save(ctx context.Context, wallets []domain.Wallet, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create export file")
	}
	if err := e.Write(ctx, wallets, f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close export file")
}

// Write renders the workbook into w. History of addresses missing from
// wallets is exported under the address itself.
func (e *Exporter) Write(ctx context.Context, wallets []domain.Wallet, w io.Writer) error {
	all, err := e.history.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "load history")
	}

	names := lo.SliceToMap(wallets, func(w domain.Wallet) (string, string) { return w.Address, w.Name })
	order := lo.Map(wallets, func(w domain.Wallet, _ int) string { return w.Address })
	for _, address := range lo.Keys(all) {
		if _, ok := names[address]; !ok {
			order = append(order, address)
			names[address] = address
		}
	}
	// orphans go after configured wallets, in a stable order
	slices.Sort(order[len(wallets):])

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newStyles(f)
	if err != nil {
		return err
	}

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return errors.Wrap(err, "rename default sheet")
	}
	if err := writeHeader(f, summarySheet, summaryHeader, styles.header); err != nil {
		return err
	}

	used := map[string]bool{strings.ToLower(summarySheet): true}
	for i, address := range order {
		records := all[address]
		if err := writeSummaryRow(f, i+2, names[address], address, records); err != nil {
			return err
		}

		sheet := sheetName(names[address], used)
		if _, err := f.NewSheet(sheet); err != nil {
			return errors.Wrapf(err, "create sheet for %s", address)
		}
		if err := writeHistory(f, sheet, records, styles); err != nil {
			return err
		}
	}

	if err := applyColumnStyles(f, summarySheet, len(order)+1, styles); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	return errors.Wrap(f.Write(w), "write workbook")
}

type sheetStyles struct {
	header  int
	balance int
	date    int
}

func newStyles(f *excelize.File) (sheetStyles, error) {
	var (
		s   sheetStyles
		err error
	)
	balance := balanceFmt
	date := dateFmt
	if s.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, errors.Wrap(err, "header style")
	}
	if s.balance, err = f.NewStyle(&excelize.Style{CustomNumFmt: &balance}); err != nil {
		return s, errors.Wrap(err, "balance style")
	}
	if s.date, err = f.NewStyle(&excelize.Style{CustomNumFmt: &date}); err != nil {
		return s, errors.Wrap(err, "date style")
	}
	return s, nil
}

func writeHeader(f *excelize.File, sheet string, header []any, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrapf(err, "write header of %s", sheet)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return errors.Wrapf(err, "style header of %s", sheet)
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeSummaryRow(f *excelize.File, row int, name, address string, records []domain.HistoryRecord) error {
	values := []any{name, address, nil, nil, nil, nil, len(records)}
	if len(records) > 0 {
		last := records[len(records)-1]
		values[2] = last.SOL.InexactFloat64()
		values[3] = last.WSOL.InexactFloat64()
		values[4] = last.Total.InexactFloat64()
		values[5] = last.Timestamp.UTC()
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	return errors.Wrapf(f.SetSheetRow(summarySheet, cell, &values), "write summary of %s", address)
}

func writeHistory(f *excelize.File, sheet string, records []domain.HistoryRecord, styles sheetStyles) error {
	if err := writeHeader(f, sheet, historyHeader, styles.header); err != nil {
		return err
	}
	for i, r := range records {
		values := []any{r.Timestamp.UTC(), r.SOL.InexactFloat64(), r.WSOL.InexactFloat64(), r.Total.InexactFloat64()}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.Wrapf(err, "write row %d of %s", i, sheet)
		}
	}
	if len(records) == 0 {
		return f.SetColWidth(sheet, "A", "D", 20)
	}

	lastRow := len(records) + 1
	if err := f.SetCellStyle(sheet, "A2", "A"+strconv.Itoa(lastRow), styles.date); err != nil {
		return errors.Wrapf(err, "style dates of %s", sheet)
	}
	if err := f.SetCellStyle(sheet, "B2", "D"+strconv.Itoa(lastRow), styles.balance); err != nil {
		return errors.Wrapf(err, "style balances of %s", sheet)
	}
	return f.SetColWidth(sheet, "A", "D", 20)
}

func applyColumnStyles(f *excelize.File, sheet string, lastRow int, styles sheetStyles) error {
	if err := f.SetColWidth(sheet, "A", "A", 18); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 48); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "C", "F", 20); err != nil {
		return err
	}
	if lastRow < 2 {
		return nil
	}
	if err := f.SetCellStyle(sheet, "C2", "E"+strconv.Itoa(lastRow), styles.balance); err != nil {
		return errors.Wrap(err, "style summary balances")
	}
	return errors.Wrap(f.SetCellStyle(sheet, "F2", "F"+strconv.Itoa(lastRow), styles.date), "style summary dates")
}

// sheetName turns a wallet name into a unique, valid sheet name.
func sheetName(name string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name)
	clean = strings.Trim(clean, "' ")
	if clean == "" {
		clean = "wallet"
	}
	clean = truncate(clean, excelize.MaxSheetNameLength)

	candidate := clean
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := "_" + strconv.Itoa(i)
		candidate = truncate(clean, excelize.MaxSheetNameLength-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
