// Package replay implements a chronological multi-instrument CSV replay
// tick source for backtesting, merging one file per instrument into a
// single timestamp-ordered stream via a min-heap — the same merge
// strategy the Python reference implementation used for backtest replay,
// expressed with container/heap and encoding/csv instead of asyncio and
// a DictReader.
package replay

import (
	"bufio"
	"container/heap"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marketcore/tickcore/internal/model"
)

// InstrumentFile names one instrument's CSV file on disk.
type InstrumentFile struct {
	StockName  string
	Instrument model.InstrumentID
	Path       string
}

// Source streams ticks from a set of per-instrument CSV files in
// chronological order. It is not safe for concurrent use.
type Source struct {
	log   *slog.Logger
	heap  tickHeap
	sleep time.Duration
}

// Config tunes Source. SleepBetweenTicks simulates live pacing during a
// backtest; zero replays as fast as possible.
type Config struct {
	SleepBetweenTicks time.Duration
}

// Open loads every file in files fully into memory, sorts each stream by
// timestamp, and prepares the merged iterator. Files with parse errors
// are skipped with a logged warning rather than aborting the whole load.
func Open(files []InstrumentFile, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{log: logger, sleep: cfg.SleepBetweenTicks}

	for _, f := range files {
		ticks, err := loadCSV(f)
		if err != nil {
			s.log.Warn("replay: failed to load instrument file", slog.String("stock", f.StockName), slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if len(ticks) == 0 {
			continue
		}
		sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })
		s.heap = append(s.heap, &stream{ticks: ticks})
	}
	if len(s.heap) == 0 {
		return nil, fmt.Errorf("replay: no usable instrument files among %d", len(files))
	}
	heap.Init(&s.heap)
	return s, nil
}

// Next returns the next tick in chronological order across all merged
// streams, or ok=false once every stream is exhausted.
func (s *Source) Next() (model.Tick, bool) {
	if len(s.heap) == 0 {
		return model.Tick{}, false
	}
	st := s.heap[0]
	tick := st.ticks[st.pos]
	st.pos++
	if st.pos >= len(st.ticks) {
		heap.Pop(&s.heap)
	} else {
		heap.Fix(&s.heap, 0)
	}
	if s.sleep > 0 {
		time.Sleep(s.sleep)
	}
	return tick, true
}

type stream struct {
	ticks []model.Tick
	pos   int
}

type tickHeap []*stream

func (h tickHeap) Len() int { return len(h) }
func (h tickHeap) Less(i, j int) bool {
	return h[i].ticks[h[i].pos].Timestamp.Before(h[j].ticks[h[j].pos].Timestamp)
}
func (h tickHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *tickHeap) Push(x any)   { *h = append(*h, x.(*stream)) }
func (h *tickHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func loadCSV(f InstrumentFile) ([]model.Tick, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReaderSize(file, 1<<20))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}

	var ticks []model.Tick
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		tick, err := rowToTick(row, idx, f)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

func rowToTick(row []string, idx map[string]int, f InstrumentFile) (model.Tick, error) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	toFloat := func(col string) *float64 {
		v := get(col)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	}

	ts, err := time.Parse(time.RFC3339, get("timestamp"))
	if err != nil {
		return model.Tick{}, err
	}

	return model.Tick{
		Timestamp:          ts,
		Instrument:         f.Instrument,
		StockName:          f.StockName,
		LastPrice:          toFloat("last_price"),
		LastTradedQty:      toFloat("last_traded_quantity"),
		AverageTradedPrice: toFloat("average_traded_price"),
		VolumeTraded:       toFloat("volume_traded"),
		TotalBuyQuantity:   toFloat("total_buy_quantity"),
		TotalSellQuantity:  toFloat("total_sell_quantity"),
	}, nil
}
