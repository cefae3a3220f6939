package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/findoc/backend/internal/cache"
	"github.com/findoc/backend/internal/config"
	"github.com/findoc/backend/internal/db"
	"github.com/findoc/backend/internal/middleware"
	"github.com/findoc/backend/internal/models"
	"github.com/findoc/backend/internal/services"
	"github.com/findoc/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

const maxTestUpload = 1024

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      fmt.Sprintf("file:controllers_%s?mode=memory&cache=shared", uuid.NewString()[:8]),
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

// as authenticates every request as the given user.
func as(userID string, role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, string(role))
		c.Next()
	}
}

type analysisFixture struct {
	svc     *services.AnalysisService
	release chan struct{}
}

// newAnalysisFixture runs a single worker with no queue. When block is set
// the analyzer waits until release is closed.
func newAnalysisFixture(t *testing.T, block bool) *analysisFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn := openTestDB(t)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	release := make(chan struct{})
	analyzer := services.AnalyzerFunc(func(ctx context.Context, text, query string) (string, error) {
		if block {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "Revenue grew 12% year over year.", nil
	})
	extractor := services.ExtractorFunc(func(context.Context, string) (string, error) {
		return "Revenue: $12,400,000", nil
	})

	jobs := services.NewJobStore(conn)
	docs := services.NewDocumentRepository(conn)
	history := services.NewHistoryRecorder(conn)
	executor := services.NewExecutor(jobs, extractor, analyzer, services.NewTemplateSynthesizer(),
		services.WithWorkers(1),
		services.WithQueueDepth(0),
		services.WithJobTimeout(5*time.Second),
		services.WithHistory(history),
	)
	executor.Start()

	t.Cleanup(func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		executor.Stop(ctx)
	})

	svc := services.NewAnalysisService(services.AnalysisDeps{
		Gate:     services.NewIngestionGate(docs, files, maxTestUpload),
		Docs:     docs,
		Jobs:     jobs,
		Executor: executor,
		Status:   services.NewStatusService(jobs, cache.Noop{}, time.Hour, time.Minute),
		History:  history,
	}, config.AnalysisConfig{MaxQueryLength: 200, DefaultQuery: config.DefaultQuery})

	return &analysisFixture{svc: svc, release: release}
}

func (f *analysisFixture) router(userID string, role models.UserRole) *gin.Engine {
	ac := NewAnalysisController(f.svc)
	r := gin.New()
	r.Use(as(userID, role))
	r.POST("/analyses", ac.SubmitAnalysis)
	r.GET("/analyses", ac.ListAnalyses)
	r.GET("/analyses/:id/status", ac.GetStatus)
	r.GET("/analyses/:id/result", ac.GetResult)
	r.DELETE("/analyses/:id", ac.DeleteAnalysis)
	r.GET("/documents", ac.ListDocuments)
	r.POST("/documents", ac.UploadDocument)
	r.DELETE("/documents/:id", ac.DeleteDocument)
	r.POST("/documents/:id/analyses", ac.AnalyzeDocument)
	r.GET("/admin/storage-stats", ac.GetStorageStats)
	return r
}

func uploadRequest(t *testing.T, path, filename string, content []byte, query string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if query != "" {
		require.NoError(t, w.WriteField("query", query))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func submit(t *testing.T, r *gin.Engine) SubmitAnalysisResponse {
	t.Helper()
	w := serve(r, uploadRequest(t, "/analyses", "q3.pdf", testPDF, "What was net income?"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp SubmitAnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// stateOf returns the polled state, or "" when the poll fails.
func stateOf(r *gin.Engine, jobID string) models.JobStatus {
	w := serve(r, httptest.NewRequest(http.MethodGet, "/analyses/"+jobID+"/status", nil))
	if w.Code != http.StatusOK {
		return ""
	}
	var snap services.StatusSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		return ""
	}
	return snap.State
}

func TestSubmitAnalysisAccepted(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)

	resp := submit(t, r)
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, "What was net income?", resp.Query)
	assert.Equal(t, "/api/v1/analyses/"+resp.JobID+"/status", resp.StatusURL)
	require.NotNil(t, resp.Status)
	assert.Positive(t, resp.Status.PollTimeoutSeconds)

	require.Eventually(t, func() bool {
		return stateOf(r, resp.JobID) == models.JobStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/analyses/"+resp.JobID+"/result", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var res services.ResultSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.ResultText)
	assert.Equal(t, "Revenue grew 12% year over year.", *res.ResultText)
	assert.False(t, res.IsDegraded)
	assert.Nil(t, res.Error)
}

func TestSubmitAnalysisRejectsOversizedFile(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)

	big := append(append([]byte{}, testPDF...), bytes.Repeat([]byte("0"), 2*maxTestUpload)...)
	w := serve(r, uploadRequest(t, "/analyses", "big.pdf", big, ""))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/analyses", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestSubmitAnalysisRejectsNonPDF(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)

	w := serve(r, uploadRequest(t, "/analyses", "notes.txt", []byte("hello"), ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/analyses", strings.NewReader(""))
	w = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusOfOtherUsersJobIsNotFound(t *testing.T) {
	f := newAnalysisFixture(t, false)
	resp := submit(t, f.router("user-1", models.RoleUser))

	other := f.router("user-2", models.RoleUser)
	w := serve(other, httptest.NewRequest(http.MethodGet, "/analyses/"+resp.JobID+"/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(other, httptest.NewRequest(http.MethodGet, "/analyses/"+uuid.NewString()+"/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	admin := f.router("admin-1", models.RoleAdmin)
	w = serve(admin, httptest.NewRequest(http.MethodGet, "/analyses/"+resp.JobID+"/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResultAndDeleteWhileProcessing(t *testing.T) {
	f := newAnalysisFixture(t, true)
	r := f.router("user-1", models.RoleUser)
	resp := submit(t, r)

	require.Eventually(t, func() bool {
		return stateOf(r, resp.JobID) == models.JobStatusProcessing
	}, 3*time.Second, 20*time.Millisecond)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/analyses/"+resp.JobID+"/result", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/analyses/"+resp.JobID, nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/documents/"+resp.DocumentID, nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	// second submission finds no free slot
	w = serve(r, uploadRequest(t, "/analyses", "q4.pdf", append(append([]byte{}, testPDF...), '\n'), ""))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestDeleteCompletedAnalysis(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)
	resp := submit(t, r)

	require.Eventually(t, func() bool {
		return stateOf(r, resp.JobID).IsTerminal()
	}, 3*time.Second, 20*time.Millisecond)

	w := serve(r, httptest.NewRequest(http.MethodDelete, "/analyses/"+resp.JobID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/analyses/"+resp.JobID+"/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadThenAnalyzeDocument(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)

	w := serve(r, uploadRequest(t, "/documents", "annual.pdf", testPDF, ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc models.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.ID)

	req := httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/analyses", strings.NewReader(`{"query":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp SubmitAnalysisResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, doc.ID, resp.DocumentID)
	assert.Equal(t, config.DefaultQuery, resp.Query)

	other := f.router("user-2", models.RoleUser)
	w = serve(other, httptest.NewRequest(http.MethodPost, "/documents/"+doc.ID+"/analyses", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/analyses?status=archived", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndDeleteDocuments(t *testing.T) {
	f := newAnalysisFixture(t, false)
	r := f.router("user-1", models.RoleUser)
	resp := submit(t, r)

	require.Eventually(t, func() bool {
		return stateOf(r, resp.JobID).IsTerminal()
	}, 3*time.Second, 20*time.Millisecond)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/documents?search=Q3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Documents  []models.Document `json:"documents"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.EqualValues(t, 1, listed.Pagination.Total)
	require.Len(t, listed.Documents, 1)
	assert.Equal(t, resp.DocumentID, listed.Documents[0].ID)

	other := f.router("user-2", models.RoleUser)
	w = serve(other, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
	w = serve(other, httptest.NewRequest(http.MethodDelete, "/documents/"+resp.DocumentID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	admin := f.router("admin-1", models.RoleAdmin)
	w = serve(admin, httptest.NewRequest(http.MethodGet, "/admin/storage-stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"documents":1`)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/documents/"+resp.DocumentID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/documents", nil))
	assert.Contains(t, w.Body.String(), `"total":0`)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/analyses/"+resp.JobID+"/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(admin, httptest.NewRequest(http.MethodGet, "/admin/storage-stats", nil))
	assert.Contains(t, w.Body.String(), `"documents":0`)
}
