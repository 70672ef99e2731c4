// Package csvlog implements a reference async, daily-rotating CSV sink
// for finalized bars and signal events. Persistence is explicitly out
// of the core's scope; this exists as an example BarSink/SignalSink a
// composition root can wire in, not as a guarantee the core provides.
package csvlog

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marketcore/tickcore/internal/model"
)

const (
	chanSize    = 4096
	bufSize     = 1 << 20
	flushPeriod = time.Second
)

// BarSink is an async CSV writer for finalized bars. Writes are
// accepted synchronously by WriteBars (the pipeline flush call) but
// actual I/O happens on a background goroutine via a non-blocking
// channel send, matching the teacher's zero-hot-path-impact logger.
type BarSink struct {
	dir string
	log *slog.Logger
	ch  chan model.Bar
	done chan struct{}
}

// NewBarSink creates a BarSink rooted at dir and starts its writer
// goroutine.
func NewBarSink(dir string, logger *slog.Logger) *BarSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &BarSink{dir: dir, log: logger, ch: make(chan model.Bar, chanSize), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *BarSink) WriteBars(ctx context.Context, bars []model.Bar) error {
	for _, b := range bars {
		select {
		case s.ch <- b:
		default:
			s.log.Warn("csv bar sink backed up, dropping row", slog.String("stock", b.StockName))
		}
	}
	return nil
}

func (s *BarSink) Close() error {
	close(s.ch)
	<-s.done
	return nil
}

func (s *BarSink) run() {
	defer close(s.done)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Error("csv bar sink: failed to create directory", slog.String("error", err.Error()))
		return
	}

	var currentDay string
	var file *os.File
	var writer *bufio.Writer

	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()

	openFile := func(day string) {
		if file != nil {
			writer.Flush()
			file.Close()
		}
		path := filepath.Join(s.dir, "bars-"+day+".csv")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			s.log.Error("csv bar sink: failed to open file", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		file = f
		writer = bufio.NewWriterSize(file, bufSize)
		info, _ := file.Stat()
		if info != nil && info.Size() == 0 {
			fmt.Fprintln(writer, "timestamp,stock_name,instrument,interval_minutes,open,high,low,close,volume,bar_vwap,session_vwap,rsi,mfi,obv,clv_smoothed,structure,structure_ratio,price_acceptance")
		}
		currentDay = day
	}

	for {
		select {
		case b, ok := <-s.ch:
			if !ok {
				if writer != nil {
					writer.Flush()
				}
				if file != nil {
					file.Close()
				}
				return
			}
			day := b.Timestamp.UTC().Format("2006-01-02")
			if day != currentDay {
				openFile(day)
			}
			if writer == nil {
				continue
			}
			fmt.Fprintf(writer, "%s,%s,%d,%d,%.4f,%.4f,%.4f,%.4f,%d,%.4f,%.4f,%.2f,%.2f,%d,%.4f,%s,%.2f,%d\n",
				b.Timestamp.UTC().Format(time.RFC3339),
				b.StockName,
				b.Instrument,
				b.IntervalMinutes,
				b.Open, b.High, b.Low, b.Close, b.Volume,
				b.BarVWAP, b.SessionVWAP,
				b.RawScores.RSI, b.RawScores.MFI, b.RawScores.OBV, b.RawScores.CLVSmoothed,
				b.RawScores.Structure, b.RawScores.StructureRatio, b.RawScores.PriceAcceptance,
			)
		case <-ticker.C:
			if writer != nil {
				writer.Flush()
			}
		}
	}
}

// SignalSink is an async CSV writer for signal events, mirroring BarSink.
type SignalSink struct {
	dir  string
	log  *slog.Logger
	ch   chan model.SignalEvent
	done chan struct{}
}

func NewSignalSink(dir string, logger *slog.Logger) *SignalSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SignalSink{dir: dir, log: logger, ch: make(chan model.SignalEvent, chanSize), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *SignalSink) WriteSignals(ctx context.Context, events []model.SignalEvent) error {
	for _, ev := range events {
		select {
		case s.ch <- ev:
		default:
			s.log.Warn("csv signal sink backed up, dropping event", slog.String("stock", ev.StockName))
		}
	}
	return nil
}

func (s *SignalSink) Close() error {
	close(s.ch)
	<-s.done
	return nil
}

func (s *SignalSink) run() {
	defer close(s.done)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Error("csv signal sink: failed to create directory", slog.String("error", err.Error()))
		return
	}

	var currentDay string
	var file *os.File
	var writer *bufio.Writer

	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()

	openFile := func(day string) {
		if file != nil {
			writer.Flush()
			file.Close()
		}
		path := filepath.Join(s.dir, "signals-"+day+".csv")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			s.log.Error("csv signal sink: failed to open file", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
		file = f
		writer = bufio.NewWriterSize(file, bufSize)
		info, _ := file.Stat()
		if info != nil && info.Size() == 0 {
			fmt.Fprintln(writer, "id,event_time,stock_name,instrument,interval_minutes,authority,event_type,side,price,vwap,entry_price,mfe_pct,mae_pct,pnl_pct,reason")
		}
		currentDay = day
	}

	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				if writer != nil {
					writer.Flush()
				}
				if file != nil {
					file.Close()
				}
				return
			}
			day := ev.EventTime.UTC().Format("2006-01-02")
			if day != currentDay {
				openFile(day)
			}
			if writer == nil {
				continue
			}
			fmt.Fprintf(writer, "%s,%s,%s,%d,%d,%s,%s,%s,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%q\n",
				ev.ID, ev.EventTime.UTC().Format(time.RFC3339), ev.StockName, ev.Instrument, ev.IntervalMinutes,
				ev.Authority, ev.EventType, ev.Side, ev.Price, ev.VWAP, ev.EntryPrice,
				ev.MFEPct, ev.MAEPct, ev.PnLPct, ev.Reason,
			)
		case <-ticker.C:
			if writer != nil {
				writer.Flush()
			}
		}
	}
}
