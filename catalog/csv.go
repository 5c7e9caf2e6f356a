package catalog

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"
)

var historyHeader = []string{"id", "product_id", "price", "change_percentage", "timestamp", "units_sold", "revenue"}

// WriteHistoryCSV writes records to w with a header row.
func WriteHistoryCSV(w io.Writer, records []PriceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}
	for _, r := range records {
		err := cw.Write([]string{
			r.ID,
			strconv.FormatInt(r.ProductID, 10),
			f(r.Price),
			f(r.ChangePercentage),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(r.UnitsSold, 10),
			f(r.Revenue),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportHistoryCSV writes records to the file at path, truncating it.
func ExportHistoryCSV(path string, records []PriceRecord) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteHistoryCSV(fh, records); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
