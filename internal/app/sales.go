package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// salesColumns is the header of a sales import file. timestamp is RFC 3339
// and may be left empty to mean "now".
var salesColumns = []string{"product_id", "units_sold", "timestamp"}

// ImportSales records every sale in the CSV file at path, in file order, and
// returns how many were recorded. It stops at the first bad row.
func (a *App) ImportSales(ctx context.Context, path string) (int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open sales file: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = len(salesColumns)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read sales header: %w", err)
	}
	for i, col := range salesColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return 0, fmt.Errorf("sales header: column %d is %q, want %q", i+1, header[i], col)
		}
	}

	n := 0
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("sales line %d: %w", line, err)
		}

		productID, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return n, fmt.Errorf("sales line %d: product_id: %w", line, err)
		}
		units, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return n, fmt.Errorf("sales line %d: units_sold: %w", line, err)
		}
		at := time.Now()
		if row[2] != "" {
			if at, err = time.Parse(time.RFC3339, row[2]); err != nil {
				return n, fmt.Errorf("sales line %d: timestamp: %w", line, err)
			}
		}

		if _, err := a.Store.RecordSale(ctx, productID, units, at); err != nil {
			return n, fmt.Errorf("sales line %d: %w", line, err)
		}
		n++
	}
	a.Log.Info("sales imported", "count", n, "path", path)
	return n, nil
}
