package catalog

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const historySheet = "PriceHistory"

// ExportHistoryXLSX writes records as a single-sheet workbook at path with
// the same columns as the CSV export.
func ExportHistoryXLSX(path string, records []PriceRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return err
	}

	header := make([]interface{}, len(historyHeader))
	for i, h := range historyHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(historySheet, "A1", &header); err != nil {
		return err
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.ID,
			r.ProductID,
			r.Price,
			r.ChangePercentage,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.UnitsSold,
			r.Revenue,
		}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
