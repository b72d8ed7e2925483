package report

import (
	"context"
	"fmt"
	"io"
	"sync"

	"ci-core/internal/domain"
)

// MemorySink keeps the latest report per target.
type MemorySink struct {
	mu      sync.Mutex
	reports map[string]*domain.Report
	writes  int
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{reports: make(map[string]*domain.Report)}
}

// Upsert implements domain.ReportSink.
func (s *MemorySink) Upsert(_ context.Context, target string, rep *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rep
	s.reports[target] = &cp
	s.writes++
	return nil
}

// Get returns the report stored under target, if any.
func (s *MemorySink) Get(target string) (*domain.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[target]
	return r, ok
}

// Len returns the number of distinct targets with a report.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// Writes returns the number of upserts received.
func (s *MemorySink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// WriterSink prints each report's markdown to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Upsert implements domain.ReportSink.
func (s *WriterSink) Upsert(_ context.Context, _ string, rep *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, rep.Markdown); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

var (
	_ domain.ReportSink = (*MemorySink)(nil)
	_ domain.ReportSink = (*WriterSink)(nil)
)
