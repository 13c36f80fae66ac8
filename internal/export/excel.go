package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"courtbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	statementSheet = "Statement"
	scheduleSheet  = "Schedule"
)

var statementHeaders = []string{"Date", "Type", "Amount", "Balance before", "Balance after", "Booking", "Series", "Description"}

// WriteWalletStatement renders the full ledger of a wallet as an xlsx workbook.
func WriteWalletStatement(w io.Writer, wallet *models.Wallet, txs []models.WalletTransaction, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return fmt.Errorf("error renaming sheet: %w", err)
	}

	_ = f.SetCellValue(statementSheet, "A1", fmt.Sprintf("Wallet of user %d, balance %d", wallet.UserID, wallet.Balance))
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	_ = f.SetCellStyle(statementSheet, "A1", "A1", titleStyle)
	_ = f.MergeCell(statementSheet, "A1", "H1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range statementHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(statementSheet, cell, h)
		_ = f.SetCellStyle(statementSheet, cell, cell, headerStyle)
	}

	for i, tx := range txs {
		row := i + 3
		values := []interface{}{
			tx.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			tx.Type,
			tx.Amount,
			tx.BalanceBefore,
			tx.BalanceAfter,
			optionalID(tx.BookingID),
			optionalID(tx.GroupID),
			tx.Description,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(statementSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
	}

	_ = f.SetColWidth(statementSheet, "A", "A", 18)
	_ = f.SetColWidth(statementSheet, "B", "G", 14)
	_ = f.SetColWidth(statementSheet, "H", "H", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// WriteCourtSchedule renders a court by day grid of occupying bookings
// between from and to, inclusive, in the given location.
func WriteCourtSchedule(w io.Writer, courts []models.Court, bookings []*models.Booking, from, to time.Time, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	from = dayStart(from.In(loc))
	to = dayStart(to.In(loc))
	if to.Before(from) {
		return fmt.Errorf("invalid period %s - %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", scheduleSheet); err != nil {
		return fmt.Errorf("error renaming sheet: %w", err)
	}

	_ = f.SetCellValue(scheduleSheet, "A1", fmt.Sprintf("Period: %s - %s",
		from.Format("02.01.2006"), to.Format("02.01.2006")))

	dateStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	columns := make(map[string]int)
	col := 2
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(scheduleSheet, cell, d.Format("02.01"))
		_ = f.SetCellStyle(scheduleSheet, cell, cell, dateStyle)
		columns[d.Format("2006-01-02")] = col
		col++
	}

	courtStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	rows := make(map[int64]int, len(courts))
	for i, c := range courts {
		row := i + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(scheduleSheet, cell, c.Name)
		_ = f.SetCellStyle(scheduleSheet, cell, cell, courtStyle)
		rows[c.ID] = row
	}

	type slotKey struct {
		row, col int
	}
	cells := make(map[slotKey][]*models.Booking)
	for _, b := range bookings {
		if !models.OccupiesCourt(b.Status) {
			continue
		}
		row, ok := rows[b.CourtID]
		if !ok {
			continue
		}
		c, ok := columns[b.StartTime.In(loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		k := slotKey{row, c}
		cells[k] = append(cells[k], b)
	}

	for k, list := range cells {
		sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
		text := ""
		for i, b := range list {
			if i > 0 {
				text += "\n"
			}
			text += fmt.Sprintf("%s-%s %s", b.StartTime.In(loc).Format("15:04"), b.EndTime.In(loc).Format("15:04"), b.Status)
		}
		cell, _ := excelize.CoordinatesToCellName(k.col, k.row)
		_ = f.SetCellValue(scheduleSheet, cell, text)
	}

	_ = f.SetColWidth(scheduleSheet, "A", "A", 20)
	if col > 2 {
		last, _ := excelize.ColumnNumberToName(col - 1)
		_ = f.SetColWidth(scheduleSheet, "B", last, 24)
		_ = f.MergeCell(scheduleSheet, "A1", last+"1")
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func optionalID(id *int64) interface{} {
	if id == nil {
		return ""
	}
	return *id
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
