// Package writers provides the metric sinks training reports to.
package writers

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// Writer consumes scalar metrics emitted at logging steps.
type Writer interface {
	// WriteScalars records the metrics for one step.
	WriteScalars(step int64, scalars map[string]float64) error
	// Flush forces buffered output out. Calling it more than once is safe.
	Flush() error
}

// sortedNames returns the metric names in deterministic order.
func sortedNames(scalars map[string]float64) []string {
	names := make([]string, 0, len(scalars))
	for name := range scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CSV appends metrics to a file as step,metric,value rows.
type CSV struct {
	f   *os.File
	buf *bufio.Writer
}

// NewCSV creates or truncates a CSV metric file and writes the header.
func NewCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &CSV{f: f, buf: bufio.NewWriter(f)}
	if _, err := w.buf.WriteString("step,metric,value\n"); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteScalars implements Writer. Metric names are written sorted so output
// is deterministic.
func (w *CSV) WriteScalars(step int64, scalars map[string]float64) error {
	for _, name := range sortedNames(scalars) {
		if _, err := fmt.Fprintf(w.buf, "%d,%s,%g\n", step, name, scalars[name]); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements Writer.
func (w *CSV) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *CSV) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Log mirrors metrics to a structured logger.
type Log struct {
	Logger *slog.Logger
}

// WriteScalars implements Writer.
func (w Log) WriteScalars(step int64, scalars map[string]float64) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2*len(scalars)+2)
	attrs = append(attrs, "step", step)
	for _, name := range sortedNames(scalars) {
		attrs = append(attrs, name, scalars[name])
	}
	logger.Info("metrics", attrs...)
	return nil
}

// Flush implements Writer.
func (w Log) Flush() error { return nil }

// Point is one recorded metric sample.
type Point struct {
	Step  int64
	Value float64
}

// History retains every written metric in memory for later inspection or
// plotting.
type History struct {
	series map[string][]Point
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{series: make(map[string][]Point)}
}

// WriteScalars implements Writer.
func (h *History) WriteScalars(step int64, scalars map[string]float64) error {
	for name, v := range scalars {
		h.series[name] = append(h.series[name], Point{Step: step, Value: v})
	}
	return nil
}

// Flush implements Writer.
func (h *History) Flush() error { return nil }

// Series returns the recorded points for one metric in write order.
func (h *History) Series(name string) []Point {
	return h.series[name]
}

// Names returns the recorded metric names, sorted.
func (h *History) Names() []string {
	names := make([]string, 0, len(h.series))
	for name := range h.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Multi fans metrics out to several writers. Every writer is attempted; the
// first error encountered is returned.
type Multi []Writer

// WriteScalars implements Writer.
func (m Multi) WriteScalars(step int64, scalars map[string]float64) error {
	var first error
	for _, w := range m {
		if err := w.WriteScalars(step, scalars); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Flush implements Writer.
func (m Multi) Flush() error {
	var first error
	for _, w := range m {
		if err := w.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops all metrics.
type Discard struct{}

// WriteScalars implements Writer.
func (Discard) WriteScalars(int64, map[string]float64) error { return nil }

// Flush implements Writer.
func (Discard) Flush() error { return nil }
