package stat

// Copyright (C) 2025 The perfstat Authors
// SPDX-License-Identifier: BSD-3-Clause

// Workbook rendering for the --xlsx flag.

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"
)

const xlsxSheetName = "Stat"

func cellName(col int, row int) (name string) {
	columnName, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return
	}
	name, err = excelize.JoinCellName(columnName, row)
	if err != nil {
		return
	}
	return
}

// createXlsxReport writes the summaries and derived metrics to a workbook.
func createXlsxReport(path string, summaries *CounterSummaries, derived []derivedMetric, durationSec float64, version string) error {
	f := excelize.NewFile()
	_ = f.SetSheetName("Sheet1", xlsxSheetName)
	_ = f.SetColWidth(xlsxSheetName, "A", "A", 25)
	_ = f.SetColWidth(xlsxSheetName, "B", "F", 18)
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
	})
	row := 1
	headers := []string{"Event", "Count", "Scale", "Runtime %", "Comment", "Generated"}
	for col, header := range headers {
		_ = f.SetCellValue(xlsxSheetName, cellName(col+1, row), header)
		_ = f.SetCellStyle(xlsxSheetName, cellName(col+1, row), cellName(col+1, row), headerStyle)
	}
	row++
	for _, s := range summaries.summaries {
		_ = f.SetCellValue(xlsxSheetName, cellName(1, row), s.Name())
		_ = f.SetCellValue(xlsxSheetName, cellName(2, row), s.Count)
		_ = f.SetCellValue(xlsxSheetName, cellName(3, row), s.Scale)
		_ = f.SetCellValue(xlsxSheetName, cellName(4, row), 1.0/s.Scale*100)
		_ = f.SetCellValue(xlsxSheetName, cellName(5, row), s.Comment)
		_ = f.SetCellValue(xlsxSheetName, cellName(6, row), s.AutoGenerated)
		row++
	}
	if len(derived) > 0 {
		row++
		_ = f.SetCellValue(xlsxSheetName, cellName(1, row), "Derived Metric")
		_ = f.SetCellStyle(xlsxSheetName, cellName(1, row), cellName(1, row), headerStyle)
		_ = f.SetCellValue(xlsxSheetName, cellName(2, row), "Value")
		_ = f.SetCellStyle(xlsxSheetName, cellName(2, row), cellName(2, row), headerStyle)
		row++
		for _, m := range derived {
			_ = f.SetCellValue(xlsxSheetName, cellName(1, row), m.Name)
			if math.IsNaN(m.Value) {
				_ = f.SetCellValue(xlsxSheetName, cellName(2, row), "NaN")
			} else {
				_ = f.SetCellValue(xlsxSheetName, cellName(2, row), m.Value)
			}
			row++
		}
	}
	row++
	_ = f.SetCellValue(xlsxSheetName, cellName(1, row), "Total test time (seconds)")
	_ = f.SetCellValue(xlsxSheetName, cellName(2, row), durationSec)
	row++
	_ = f.SetCellValue(xlsxSheetName, cellName(1, row), "Version")
	_ = f.SetCellValue(xlsxSheetName, cellName(2, row), version)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to write workbook %s: %v", path, err)
	}
	return nil
}
