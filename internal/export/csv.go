// Package export renders archive records as the crowdsourcing CSV and uploads
// it to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	contenthash "github.com/JakeFAU/wayback-news-archiver/internal/hash/sha256"
	"github.com/JakeFAU/wayback-news-archiver/internal/storage"
	"github.com/JakeFAU/wayback-news-archiver/internal/store"
)

// Wayback status labels.
const (
	StatusArchived    = "Already Archived"
	StatusNotArchived = "Not Archived"
)

const (
	contentType  = "text/csv; charset=utf-8"
	noteArchived = "Already in Wayback"
)

var (
	header = []string{"Date", "Title", "URL", "Wayback Status", "Priority", "Keywords", "Notes"}
	bom    = []byte{0xEF, 0xBB, 0xBF}
)

// RecordLister is the part of store.Store the exporter reads from.
type RecordLister interface {
	ListRecords(ctx context.Context, filter store.RecordFilter) ([]store.ArchiveRecord, error)
}

// Config holds the priority term lists.
type Config struct {
	HighPriority   []string
	MediumPriority []string
}

// Summary describes one written export.
type Summary struct {
	URI         string
	SHA256      string
	Rows        int
	Archived    int
	NotArchived int
	ByPriority  map[string]int
}

// Exporter builds CSV files from stored records.
type Exporter struct {
	cfg    Config
	store  RecordLister
	blobs  storage.BlobStore
	logger *zap.Logger
}

// New returns an Exporter. Empty term lists fall back to the defaults.
func New(cfg Config, records RecordLister, blobs storage.BlobStore, logger *zap.Logger) (*Exporter, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if len(cfg.HighPriority) == 0 {
		cfg.HighPriority = DefaultHighPriority()
	}
	if len(cfg.MediumPriority) == 0 {
		cfg.MediumPriority = DefaultMediumPriority()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{cfg: cfg, store: records, blobs: blobs, logger: logger}, nil
}

// DefaultName is the export file name for an inclusive date range.
func DefaultName(start, end time.Time) string {
	return fmt.Sprintf("articles_%s_%s.csv", start.Format("20060102"), end.Format("20060102"))
}

// Export writes every record between start and end (inclusive) to name.
// An empty name uses DefaultName.
func (e *Exporter) Export(ctx context.Context, start, end time.Time, name string) (Summary, error) {
	if end.Before(start) {
		return Summary{}, fmt.Errorf("end date %s is before start date %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName(start, end)
	}
	records, err := e.store.ListRecords(ctx, store.RecordFilter{
		StartDate: start.Format("20060102"),
		EndDate:   end.Format("20060102"),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("list records: %w", err)
	}

	var buf bytes.Buffer
	sum, err := e.Write(&buf, records)
	if err != nil {
		return Summary{}, err
	}
	sum.SHA256 = contenthash.Digest(buf.Bytes())
	uri, err := e.blobs.PutObject(ctx, name, contentType, &buf)
	if err != nil {
		return Summary{}, fmt.Errorf("upload %s: %w", name, err)
	}
	sum.URI = uri
	e.logger.Info("export written",
		zap.String("uri", uri),
		zap.String("sha256", sum.SHA256),
		zap.Int("rows", sum.Rows),
		zap.Int("archived", sum.Archived),
		zap.Int("not_archived", sum.NotArchived))
	return sum, nil
}

// Write renders records as CSV with a UTF-8 byte order mark.
func (e *Exporter) Write(buf *bytes.Buffer, records []store.ArchiveRecord) (Summary, error) {
	sum := Summary{ByPriority: map[string]int{}}
	buf.Write(bom)
	w := csv.NewWriter(buf)
	if err := w.Write(header); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		row := e.row(rec)
		if err := w.Write(row); err != nil {
			return Summary{}, fmt.Errorf("write row %s: %w", rec.ArticleURL, err)
		}
		sum.Rows++
		if rec.Status.Terminal() {
			sum.Archived++
		} else {
			sum.NotArchived++
		}
		sum.ByPriority[row[4]]++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Summary{}, fmt.Errorf("flush csv: %w", err)
	}
	return sum, nil
}

func (e *Exporter) row(rec store.ArchiveRecord) []string {
	keywords := splitKeywords(rec.MatchedKeywords)
	status := StatusNotArchived
	notes := deref(rec.ErrorMessage)
	if rec.Status.Terminal() {
		status = StatusArchived
		notes = noteArchived
	}
	return []string{
		displayDate(rec.ArchiveDate),
		deref(rec.ArticleTitle),
		rec.ArticleURL,
		status,
		Priority(rec.ArticleTitle, keywords, e.cfg.HighPriority, e.cfg.MediumPriority),
		strings.Join(keywords, ","),
		notes,
	}
}

func displayDate(yyyymmdd string) string {
	t, err := time.Parse("20060102", yyyymmdd)
	if err != nil {
		return yyyymmdd
	}
	return t.Format(time.DateOnly)
}

func splitKeywords(joined *string) []string {
	if joined == nil {
		return nil
	}
	var out []string
	for _, kw := range strings.Split(*joined, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
