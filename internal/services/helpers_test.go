package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/db"
	"github.com/findoc/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// minimalPDF is enough for content sniffing; it is never parsed.
var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8]),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return conn
}

func seedDocument(t *testing.T, conn *gorm.DB, ownerID, filename string) *models.Document {
	t.Helper()
	id := uuid.NewString()
	doc := &models.Document{
		ID:               id,
		OwnerID:          ownerID,
		OriginalFilename: filename,
		StorageKey:       "documents/" + id + ".pdf",
		Size:             int64(len(minimalPDF)),
		MimeType:         pdfMimeType,
		ContentHash:      strings.Repeat("a", 64),
	}
	require.NoError(t, conn.Create(doc).Error)
	return doc
}

func seedJob(t *testing.T, store *JobStore, conn *gorm.DB, ownerID, query string) *models.AnalysisJob {
	t.Helper()
	doc := seedDocument(t, conn, ownerID, "report.pdf")
	job, err := store.Create(context.Background(), ownerID, doc.ID, query)
	require.NoError(t, err)
	return job
}

// waitTerminal polls the store until the job reaches a terminal state.
func waitTerminal(t *testing.T, store *JobStore, id string, within time.Duration) *models.AnalysisJob {
	t.Helper()
	var job *models.AnalysisJob
	require.Eventually(t, func() bool {
		j, err := store.GetInternal(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status.IsTerminal()
	}, within, 10*time.Millisecond, "job %s did not finish", id)
	return job
}

func staticExtractor(text string) ExtractorFunc {
	return func(context.Context, string) (string, error) { return text, nil }
}

func staticAnalyzer(result string) AnalyzerFunc {
	return func(context.Context, string, string) (string, error) { return result, nil }
}
