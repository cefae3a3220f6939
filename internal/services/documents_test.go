package services

import (
	"context"
	"testing"
	"time"

	"github.com/findoc/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRepositoryList(t *testing.T) {
	conn := newTestDB(t)
	docs := NewDocumentRepository(conn)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, name := range []string{"Q1-report.pdf", "q2-REPORT.pdf", "invoice.pdf"} {
		doc := seedDocument(t, conn, "owner-1", name)
		require.NoError(t, conn.Model(doc).Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error)
	}
	seedDocument(t, conn, "owner-2", "report.pdf")

	list, total, err := docs.List(ctx, Requester{OwnerID: "owner-1"}, DocumentFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, list, 3)
	assert.Equal(t, "invoice.pdf", list[0].OriginalFilename)

	list, total, err = docs.List(ctx, Requester{OwnerID: "owner-1"}, DocumentFilter{Search: " report "})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, list, 2)

	list, total, err = docs.List(ctx, Requester{OwnerID: "owner-1"}, DocumentFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, list, 1)
	assert.Equal(t, "Q1-report.pdf", list[0].OriginalFilename)

	_, total, err = docs.List(ctx, Requester{IsAdmin: true}, DocumentFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
}

func TestDocumentRepositoryDeleteRefusesActiveJobs(t *testing.T) {
	conn := newTestDB(t)
	docs := NewDocumentRepository(conn)
	jobs := NewJobStore(conn)
	ctx := context.Background()
	owner := Requester{OwnerID: "owner-1"}

	job := seedJob(t, jobs, conn, "owner-1", "q")

	_, _, err := docs.Delete(ctx, job.DocumentID, owner)
	assert.ErrorIs(t, err, ErrJobInProgress, "pending job")

	_, err = jobs.Transition(ctx, job.ID, models.JobStatusPending, models.JobStatusProcessing, TransitionFields{})
	require.NoError(t, err)
	_, _, err = docs.Delete(ctx, job.DocumentID, owner)
	assert.ErrorIs(t, err, ErrJobInProgress, "processing job")

	text := "done"
	_, err = jobs.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted, TransitionFields{ResultText: &text})
	require.NoError(t, err)

	_, _, err = docs.Delete(ctx, job.DocumentID, Requester{OwnerID: "owner-2"})
	assert.ErrorIs(t, err, ErrNotFound)

	doc, removed, err := docs.Delete(ctx, job.DocumentID, owner)
	require.NoError(t, err)
	assert.Equal(t, job.DocumentID, doc.ID)
	require.Len(t, removed, 1)
	assert.Equal(t, job.ID, removed[0].ID)

	_, err = docs.Get(ctx, job.DocumentID, owner)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = jobs.Get(ctx, job.ID, owner)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = docs.Delete(ctx, job.DocumentID, owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentRepositoryStats(t *testing.T) {
	conn := newTestDB(t)
	docs := NewDocumentRepository(conn)

	seedDocument(t, conn, "owner-1", "a.pdf")
	seedDocument(t, conn, "owner-1", "b.pdf")
	seedDocument(t, conn, "owner-2", "c.pdf")

	stats, err := docs.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Documents)
	assert.EqualValues(t, 3*len(minimalPDF), stats.TotalBytes)
	assert.EqualValues(t, 2, stats.Owners)
}
