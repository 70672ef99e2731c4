package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marketcore/tickcore/internal/model"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestOpenMergesMultipleInstrumentsChronologically(t *testing.T) {
	dir := t.TempDir()
	csvA := "timestamp,last_price,volume_traded\n" +
		"2024-01-01T09:00:00Z,100,100\n" +
		"2024-01-01T09:00:10Z,101,150\n"
	csvB := "timestamp,last_price,volume_traded\n" +
		"2024-01-01T09:00:05Z,50,10\n" +
		"2024-01-01T09:00:20Z,51,20\n"

	pathA := writeCSV(t, dir, "a.csv", csvA)
	pathB := writeCSV(t, dir, "b.csv", csvB)

	src, err := Open([]InstrumentFile{
		{StockName: "A", Instrument: 1, Path: pathA},
		{StockName: "B", Instrument: 2, Path: pathB},
	}, Config{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var order []model.InstrumentID
	for {
		tick, ok := src.Next()
		if !ok {
			break
		}
		order = append(order, tick.Instrument)
	}

	want := []model.InstrumentID{1, 2, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("got %d ticks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("tick[%d].Instrument = %v, want %v (chronological merge order = %v)", i, order[i], want[i], order)
		}
	}
}

func TestOpenSkipsUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "good.csv", "timestamp,last_price,volume_traded\n2024-01-01T09:00:00Z,100,100\n")
	bad := filepath.Join(dir, "missing.csv")

	src, err := Open([]InstrumentFile{
		{StockName: "GOOD", Instrument: 1, Path: good},
		{StockName: "BAD", Instrument: 2, Path: bad},
	}, Config{}, nil)
	if err != nil {
		t.Fatalf("Open should tolerate one bad file when another is usable: %v", err)
	}

	tick, ok := src.Next()
	if !ok || tick.Instrument != 1 {
		t.Errorf("expected the single tick from the good file, got %+v ok=%v", tick, ok)
	}
	if _, ok := src.Next(); ok {
		t.Errorf("expected exhaustion after the one usable tick")
	}
}

func TestOpenReturnsErrorWhenNoFilesUsable(t *testing.T) {
	dir := t.TempDir()
	_, err := Open([]InstrumentFile{
		{StockName: "MISSING", Instrument: 1, Path: filepath.Join(dir, "missing.csv")},
	}, Config{}, nil)
	if err == nil {
		t.Fatalf("expected an error when every instrument file is unusable")
	}
}
