// Package archive publishes rendered reports to object storage. Each target
// maps to a fixed set of object keys, so publishing a target again overwrites
// the previous report.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"ci-core/internal/domain"
	"ci-core/internal/service/report"
)

// ObjectStore writes whole objects under a key.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Object names written for every target.
const (
	MarkdownObject = "report.md"
	HTMLObject     = "report.html"
	JSONObject     = "report.json"
)

var _ domain.ReportSink = (*Sink)(nil)

// Sink implements domain.ReportSink on an ObjectStore.
type Sink struct {
	store  ObjectStore
	prefix string
	logger *slog.Logger
}

// NewSink creates a Sink writing below prefix.
func NewSink(store ObjectStore, prefix string, logger *slog.Logger) *Sink {
	return &Sink{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Key returns the object key of name for target.
func (s *Sink) Key(target, name string) string {
	return path.Join(s.prefix, TargetDir(target), name)
}

// Upsert implements domain.ReportSink. Every object is attempted; failures
// are joined.
func (s *Sink) Upsert(ctx context.Context, target string, rep *domain.Report) error {
	var html bytes.Buffer
	if err := report.RenderHTML(&html, rep); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	objects := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{MarkdownObject, []byte(rep.Markdown), "text/markdown; charset=utf-8"},
		{HTMLObject, html.Bytes(), "text/html; charset=utf-8"},
		{JSONObject, raw, "application/json"},
	}

	var errs []error
	for _, obj := range objects {
		key := s.Key(target, obj.name)
		if err := s.store.Put(ctx, key, obj.body, obj.contentType); err != nil {
			errs = append(errs, fmt.Errorf("put %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("report archived", "target", target, "run_id", rep.RunID, "prefix", s.prefix)
	return nil
}

// TargetDir maps a report target to a single path segment.
func TargetDir(target string) string {
	return url.PathEscape(strings.ReplaceAll(target, "/", "_"))
}

// Options carries credentials for the remote stores. Unset fields fall back
// to each SDK's default credential chain where it has one.
type Options struct {
	S3Endpoint string // host[:port] of an S3-compatible endpoint; enables path-style addressing
	S3Region   string
	S3KeyID    string
	S3Secret   string

	GCSCredentialsFile string

	AzureAccountName string
	AzureAccountKey  string
	AzureEndpoint    string // service URL override, e.g. an emulator
}

// Open parses rawURL and returns a Sink for it. Supported schemes are s3://,
// gs://, az:// and file://.
func Open(ctx context.Context, rawURL string, opts Options, logger *slog.Logger) (*Sink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse archive url %q: %w", rawURL, err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	logger = logger.With("component", "archive", "scheme", u.Scheme)

	if u.Scheme != "file" && u.Host == "" {
		return nil, domain.ErrValidation("archive url %q has no bucket", rawURL)
	}

	var store ObjectStore
	switch u.Scheme {
	case "s3":
		store, err = NewS3Store(u.Host, opts)
	case "gs":
		store, err = NewGCSStore(ctx, u.Host, opts)
	case "az":
		store, err = NewAzureStore(u.Host, opts)
	case "file":
		store, prefix = NewFileStore(filepath.Join(u.Host, filepath.FromSlash(u.Path))), ""
	default:
		return nil, domain.ErrValidation("unsupported archive scheme %q in %q", u.Scheme, rawURL)
	}
	if err != nil {
		return nil, err
	}
	return NewSink(store, prefix, logger), nil
}
