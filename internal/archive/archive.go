// Package archive persists computed intelligence records off the hot
// path. Writes are fire-and-forget from the pipeline's point of view;
// the store is for offline analysis, not serving.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lead-intelligence/internal/common/database"
	commonerrors "lead-intelligence/internal/common/errors"
	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/metrics"
	"lead-intelligence/internal/models"
)

// Archiver persists one intelligence record.
type Archiver interface {
	Write(ctx context.Context, rec *models.IntelligenceRecord) error
}

// PostgresArchiver writes records to a Postgres table as one row per
// computation, with the full record preserved as JSONB.
type PostgresArchiver struct {
	db    *database.PostgresClient
	table string
}

// NewPostgresArchiver creates an archiver writing to the given table.
func NewPostgresArchiver(db *database.PostgresClient, table string) *PostgresArchiver {
	return &PostgresArchiver{db: db, table: table}
}

func (a *PostgresArchiver) Write(ctx context.Context, rec *models.IntelligenceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return commonerrors.NewArchiveFailedError(err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (lead_id, tenant_id, computed_at, health_score, confidence, priority_level, degraded, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, a.table)

	_, err = a.db.Exec(ctx, query,
		rec.LeadID,
		rec.TenantID,
		rec.ComputedAt,
		rec.OverallHealthScore,
		rec.ConfidenceScore,
		rec.PriorityLevel,
		rec.Degraded,
		payload,
	)
	if err != nil {
		return commonerrors.NewArchiveFailedError(err)
	}
	return nil
}

// AsyncArchiver decouples archival from event processing through a
// bounded buffer and a single writer goroutine. A full buffer drops the
// record rather than slowing the pipeline.
type AsyncArchiver struct {
	inner  Archiver
	buf    chan *models.IntelligenceRecord
	done   chan struct{}
	logger logger.Logger
}

// NewAsyncArchiver starts the background writer.
func NewAsyncArchiver(inner Archiver, bufferSize int, log logger.Logger) *AsyncArchiver {
	a := &AsyncArchiver{
		inner:  inner,
		buf:    make(chan *models.IntelligenceRecord, bufferSize),
		done:   make(chan struct{}),
		logger: log.WithFields(map[string]interface{}{"component": "archiver"}),
	}
	go a.run()
	return a
}

// Enqueue hands a record to the background writer. Never blocks.
func (a *AsyncArchiver) Enqueue(rec *models.IntelligenceRecord) {
	select {
	case a.buf <- rec:
	default:
		metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
		a.logger.Warn("archive buffer full, dropping record", map[string]interface{}{
			"leadId":   rec.LeadID,
			"tenantId": rec.TenantID,
		})
	}
}

// Close drains buffered records and stops the writer.
func (a *AsyncArchiver) Close() {
	close(a.buf)
	<-a.done
}

func (a *AsyncArchiver) run() {
	defer close(a.done)

	for rec := range a.buf {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.inner.Write(ctx, rec); err != nil {
			metrics.ArchiveWrites.WithLabelValues("error").Inc()
			a.logger.Error("archive write failed", map[string]interface{}{
				"leadId":   rec.LeadID,
				"tenantId": rec.TenantID,
				"error":    err,
			})
		} else {
			metrics.ArchiveWrites.WithLabelValues("ok").Inc()
		}
		cancel()
	}
}
