package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheet       = "Status"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var columns = []string{"Outlet Name", "Status", "Username", "Check Time"}

// XLSXRenderer renders the report as a spreadsheet with one row per outlet.
type XLSXRenderer struct{}

// Format implements Renderer.
func (XLSXRenderer) Format() string { return "xlsx" }

// Render implements Renderer.
func (XLSXRenderer) Render(r *Report) (Document, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return Document{}, fmt.Errorf("new sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return Document{}, fmt.Errorf("delete default sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return Document{}, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return Document{}, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", "D1", bold); err != nil {
		return Document{}, fmt.Errorf("apply header style: %w", err)
	}

	for i, res := range r.Results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return Document{}, err
		}
		row := []any{res.OutletID, res.Status, res.Username, res.CheckedAt.Local().Format(TimeLayout)}
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return Document{}, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(xlsxSheet, "A", "A", 36); err != nil {
		return Document{}, err
	}
	if err := f.SetColWidth(xlsxSheet, "B", "D", 22); err != nil {
		return Document{}, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Document{}, fmt.Errorf("write workbook: %w", err)
	}
	return Document{
		Name:        fileName(r, "xlsx"),
		ContentType: xlsxContentType,
		Data:        buf.Bytes(),
	}, nil
}
