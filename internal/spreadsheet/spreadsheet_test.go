package spreadsheet

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestDetect(t *testing.T) {
	assert.Equal(t, KindCSV, Detect("plant.CSV"))
	assert.Equal(t, KindExcel, Detect("plant.xlsx"))
	assert.Equal(t, KindExcel, Detect("dir/plant.xlsm"))
	assert.Equal(t, KindUnknown, Detect("plant.txt"))
	assert.Equal(t, KindUnknown, Detect("plant"))
	assert.True(t, IsSupported("a.csv"))
	assert.False(t, IsSupported("a.pdf"))
}

func TestPrepareUploadCSVPassthrough(t *testing.T) {
	body := "Equipment Name,Type,Flowrate\nP-1,Pump,10.5\n"
	name, r, err := PrepareUpload("/tmp/uploads/plant.csv", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "plant.csv", name)
	got, _ := io.ReadAll(r)
	assert.Equal(t, body, string(got))
}

func TestPrepareUploadExcel(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Equipment Name", "Type", "Flowrate", "Pressure", "Temperature"},
		{"Pump-1", "Pump", 120.5, 5.2, 110},
		{"Valve, main", "Valve"},
	})

	name, r, err := PrepareUpload("plant.xlsx", buf)
	require.NoError(t, err)
	assert.Equal(t, "plant.csv", name)

	got, _ := io.ReadAll(r)
	want := "Equipment Name,Type,Flowrate,Pressure,Temperature\n" +
		"Pump-1,Pump,120.5,5.2,110\n" +
		"\"Valve, main\",Valve,,,\n"
	assert.Equal(t, want, string(got))
}

func TestPrepareUploadUnsupported(t *testing.T) {
	_, _, err := PrepareUpload("notes.txt", strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestExcelToCSVEmpty(t *testing.T) {
	_, err := ExcelToCSV(workbook(t, nil))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestExcelToCSVCorrupt(t *testing.T) {
	_, err := ExcelToCSV(strings.NewReader("not a zip"))
	assert.Error(t, err)
}
