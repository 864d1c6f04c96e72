// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// csvRow is one data row decoded against its header, the same loose
// map[string]string shape original_source's load_csv returns — mapping
// CSVs have no fixed column set (it depends on the protocol), so a map is
// the natural fit; point tables impose their own required columns on top.
type csvRow map[string]string

// loadCSVRows reads path as a header + data-row CSV, trimming whitespace
// from every cell. A missing file is returned as an opening error —
// callers check os.Stat / existence before calling this.
func loadCSVRows(path string) ([]csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("syncer: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("syncer: parsing %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]csvRow, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(csvRow, len(header))
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// parseUint32 parses a required numeric column, returning a descriptive
// error that a caller can fold into a SyncError for its row.
func parseUint32(row csvRow, col string) (uint32, error) {
	v, ok := row[col]
	if !ok || v == "" {
		return 0, fmt.Errorf("missing column %q", col)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", col, err)
	}
	return uint32(n), nil
}

func parseFloat64Default(row csvRow, col string, def float64) float64 {
	v, ok := row[col]
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBoolDefault(row csvRow, col string, def bool) bool {
	v, ok := row[col]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
