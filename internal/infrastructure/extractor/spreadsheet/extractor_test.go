package spreadsheet

import (
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	_ = f.SetCellValue("Sheet1", "A1", "Bank statement")
	_ = f.SetCellValue("Sheet1", "A2", "Balance")
	_ = f.SetCellValue("Sheet1", "B2", 5000)
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}

func TestExtractFlattensRows(t *testing.T) {
	got, err := Extract(workbook(t))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(got, "Sheet: Sheet1") || !strings.Contains(got, "Balance\t5000") {
		t.Fatalf("Extract() = %q", got)
	}
}

func TestExtractRejectsCorruptWorkbook(t *testing.T) {
	if _, err := Extract([]byte("not a zip")); err == nil {
		t.Fatalf("expected error for corrupt workbook")
	}
}
