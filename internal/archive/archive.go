// Package archive stores the history of finished deliveries as one parquet
// file per order.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Kwendataxi/kwenda-sub020/internal/cloudwriter"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Record is what a client observed of one order until it reached a terminal
// status.
type Record struct {
	Order     models.DeliveryOrder
	Locations []models.SubjectLocation
	Messages  []models.ChatMessage
}

type Archiver interface {
	Archive(ctx context.Context, rec Record) error
}

const (
	KindOrder    = "order"
	KindStatus   = "status"
	KindLocation = "location"
	KindChat     = "chat"
)

// Row is a single line of an order's timeline.
type Row struct {
	OrderID   string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	At        int64   `parquet:"name=at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Status    string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	SubjectID string  `parquet:"name=subject_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Lat       float64 `parquet:"name=lat, type=DOUBLE"`
	Lon       float64 `parquet:"name=lon, type=DOUBLE"`
	Speed     float64 `parquet:"name=speed, type=DOUBLE"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	SenderID  string  `parquet:"name=sender_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Text      string  `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Rows flattens a record into timeline rows sorted by time. The first row
// always summarises the order.
func Rows(rec Record) []Row {
	o := rec.Order
	rows := []Row{{
		OrderID:   o.ID,
		Kind:      KindOrder,
		At:        o.UpdatedAt.UnixMilli(),
		Status:    string(o.Status),
		SubjectID: o.AssignedSubjectID,
		Lat:       o.Dropoff.Location.Lat,
		Lon:       o.Dropoff.Location.Lon,
		Price:     price(o),
	}}

	var timeline []Row
	for status, at := range o.StatusTimes {
		timeline = append(timeline, Row{OrderID: o.ID, Kind: KindStatus, At: at.UnixMilli(), Status: string(status)})
	}
	for _, l := range rec.Locations {
		timeline = append(timeline, Row{
			OrderID:   o.ID,
			Kind:      KindLocation,
			At:        l.LastPing.UnixMilli(),
			SubjectID: l.SubjectID,
			Lat:       l.Location.Lat,
			Lon:       l.Location.Lon,
			Speed:     l.Movement.Speed,
		})
	}
	for _, m := range rec.Messages {
		timeline = append(timeline, Row{
			OrderID:  o.ID,
			Kind:     KindChat,
			At:       m.SentAt.UnixMilli(),
			SenderID: m.SenderID,
			Text:     m.Text,
		})
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		if timeline[i].At == timeline[j].At {
			return timeline[i].Kind < timeline[j].Kind
		}
		return timeline[i].At < timeline[j].At
	})
	return append(rows, timeline...)
}

func price(o models.DeliveryOrder) float64 {
	if o.PriceActual > 0 {
		return o.PriceActual
	}
	return o.PriceEstimate
}

// ParquetArchiver writes records under <folder>/year=YYYY/month=MM/day=DD/<order>.parquet
// either on local disk or in a bucket.
type ParquetArchiver struct {
	basePath string
	bucket   string
	factory  cloudwriter.CloudWriterFactory
	logger   *slog.Logger
}

func NewLocalArchiver(basePath string, logger *slog.Logger) *ParquetArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParquetArchiver{basePath: basePath, logger: logger.With("component", "archive")}
}

func NewCloudArchiver(factory cloudwriter.CloudWriterFactory, bucket, folder string, logger *slog.Logger) *ParquetArchiver {
	a := NewLocalArchiver(folder, logger)
	a.factory = factory
	a.bucket = bucket
	return a
}

// NewFromConfig builds the archiver selected by cfg, or nil when archiving is
// disabled.
func NewFromConfig(ctx context.Context, cfg models.ArchiveConfig, logger *slog.Logger) (Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Destination {
	case "s3":
		factory, err := cloudwriter.NewS3WriterFactory(ctx, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud writer factory: %w", err)
		}
		return NewCloudArchiver(factory, cfg.Bucket, cfg.Path, logger), nil
	case "local", "":
		return NewLocalArchiver(cfg.Path, logger), nil
	default:
		return nil, fmt.Errorf("unsupported archive destination: %s", cfg.Destination)
	}
}

// ObjectPath returns where the record of order is written, relative to the
// archive root.
func ObjectPath(o models.DeliveryOrder) string {
	at := o.UpdatedAt.UTC()
	partition := fmt.Sprintf("year=%d/month=%02d/day=%02d", at.Year(), at.Month(), at.Day())
	return filepath.Join(partition, o.ID+".parquet")
}

func (a *ParquetArchiver) Archive(ctx context.Context, rec Record) error {
	if rec.Order.ID == "" {
		return fmt.Errorf("archive: record without order id")
	}
	rel := filepath.Join(a.basePath, ObjectPath(rec.Order))

	var fw source.ParquetFile
	if a.factory != nil {
		cw, err := a.factory.NewWriter(ctx, a.bucket, filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("failed to create cloud writer: %w", err)
		}
		fw = cloudwriter.NewParquetFile(cw)
	} else {
		if err := os.MkdirAll(filepath.Dir(rel), os.ModePerm); err != nil {
			return err
		}
		var err error
		fw, err = local.NewLocalFileWriter(rel)
		if err != nil {
			return fmt.Errorf("failed to create parquet file: %w", err)
		}
	}

	rows := Rows(rec)
	if err := write(fw, rows); err != nil {
		fw.Close()
		return fmt.Errorf("archive order %s: %w", rec.Order.ID, err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("archive order %s: %w", rec.Order.ID, err)
	}

	a.logger.Info("order archived", "order_id", rec.Order.ID, "rows", len(rows), "path", rel)
	return nil
}

func write(fw source.ParquetFile, rows []Row) error {
	pw, err := writer.NewParquetWriter(fw, new(Row), 4)
	if err != nil {
		return fmt.Errorf("failed to create ParquetWriter: %w", err)
	}
	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return pw.WriteStop()
}
