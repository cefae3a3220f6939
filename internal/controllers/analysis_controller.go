package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/findoc/backend/internal/middleware"
	"github.com/findoc/backend/internal/models"
	"github.com/findoc/backend/internal/services"
	"github.com/gin-gonic/gin"
)

// multipart overhead allowed on top of the document size
const formOverhead = 1 << 20

type AnalysisController struct {
	analyses *services.AnalysisService
}

func NewAnalysisController(analyses *services.AnalysisService) *AnalysisController {
	return &AnalysisController{analyses: analyses}
}

type SubmitAnalysisRequest struct {
	Query string `json:"query"`
}

type SubmitAnalysisResponse struct {
	JobID      string                   `json:"jobId"`
	DocumentID string                   `json:"documentId"`
	Query      string                   `json:"query"`
	Status     *services.StatusSnapshot `json:"status"`
	StatusURL  string                   `json:"statusUrl"`
	ResultURL  string                   `json:"resultUrl"`
}

func requester(c *gin.Context) services.Requester {
	return services.Requester{
		OwnerID: middleware.CurrentUserID(c),
		IsAdmin: middleware.CurrentRole(c) == models.RoleAdmin,
	}
}

// readUpload pulls the "file" part out of a multipart request, reading at most
// one byte past the size limit so oversized files are still reported as such.
func (ac *AnalysisController) readUpload(c *gin.Context) (services.Upload, error) {
	maxSize := ac.analyses.MaxUploadSize()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+formOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return services.Upload{}, &services.ValidationError{Kind: services.ValidationTooLarge, Message: fmt.Sprintf("file exceeds the maximum size of %d MB", maxSize/(1024*1024))}
		}
		return services.Upload{}, &services.ValidationError{Kind: services.ValidationEmpty, Message: "a PDF file is required in the 'file' field"}
	}
	return openUpload(header, maxSize)
}

func openUpload(header *multipart.FileHeader, maxSize int64) (services.Upload, error) {
	f, err := header.Open()
	if err != nil {
		return services.Upload{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return services.Upload{}, fmt.Errorf("read upload: %w", err)
	}
	return services.Upload{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Content:  content,
	}, nil
}

func (ac *AnalysisController) accepted(c *gin.Context, job *models.AnalysisJob) {
	snap, err := ac.analyses.Poll(c.Request.Context(), job.ID, requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	base := "/api/v1/analyses/" + job.ID
	c.JSON(http.StatusAccepted, SubmitAnalysisResponse{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		Query:      job.Query,
		Status:     snap,
		StatusURL:  base + "/status",
		ResultURL:  base + "/result",
	})
}

// SubmitAnalysis accepts a PDF and a query and queues the analysis.
func (ac *AnalysisController) SubmitAnalysis(c *gin.Context) {
	up, err := ac.readUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}

	job, err := ac.analyses.SubmitDocument(c.Request.Context(), middleware.CurrentUserID(c), up, c.PostForm("query"))
	if err != nil {
		respondError(c, err)
		return
	}
	ac.accepted(c, job)
}

func (ac *AnalysisController) UploadDocument(c *gin.Context) {
	up, err := ac.readUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}

	doc, err := ac.analyses.StageDocument(c.Request.Context(), middleware.CurrentUserID(c), up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// AnalyzeDocument queues another analysis of an uploaded document.
func (ac *AnalysisController) AnalyzeDocument(c *gin.Context) {
	var req SubmitAnalysisRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	job, err := ac.analyses.Submit(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	ac.accepted(c, job)
}

func (ac *AnalysisController) GetStatus(c *gin.Context) {
	snap, err := ac.analyses.Poll(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (ac *AnalysisController) GetResult(c *gin.Context) {
	res, err := ac.analyses.FetchResult(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ac *AnalysisController) GetHistory(c *gin.Context) {
	events, err := ac.analyses.History(c.Request.Context(), c.Param("id"), requester(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListAnalyses lists the caller's own jobs, admins included.
func (ac *AnalysisController) ListAnalyses(c *gin.Context) {
	ac.list(c, services.Requester{OwnerID: middleware.CurrentUserID(c)})
}

// AdminListAnalyses lists jobs of every owner.
func (ac *AnalysisController) AdminListAnalyses(c *gin.Context) {
	ac.list(c, services.Requester{IsAdmin: true})
}

func (ac *AnalysisController) list(c *gin.Context, req services.Requester) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	filter := services.ListFilter{
		Status: models.JobStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	}

	jobs, total, err := ac.analyses.List(c.Request.Context(), req, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analyses": jobs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (ac *AnalysisController) DeleteAnalysis(c *gin.Context) {
	if err := ac.analyses.Delete(c.Request.Context(), c.Param("id"), requester(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Analysis deleted"})
}

func (ac *AnalysisController) GetStatistics(c *gin.Context) {
	stats, err := ac.analyses.Stats(c.Request.Context(), services.Requester{OwnerID: middleware.CurrentUserID(c)})
	if err != nil {
		respondError(c, err)
		return
	}
	inFlight, capacity := ac.analyses.Load()
	c.JSON(http.StatusOK, gin.H{
		"jobs": stats,
		"executor": gin.H{
			"inFlight": inFlight,
			"capacity": capacity,
		},
	})
}

// GetJobDetails is the admin view of a single job including its document.
func (ac *AnalysisController) GetJobDetails(c *gin.Context) {
	job, err := ac.analyses.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListDocuments lists the caller's uploads, optionally filtered by a filename search.
func (ac *AnalysisController) ListDocuments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	filter := services.DocumentFilter{
		Search: c.Query("search"),
		Page:   page,
		Limit:  limit,
	}

	docs, total, err := ac.analyses.ListDocuments(c.Request.Context(), services.Requester{OwnerID: middleware.CurrentUserID(c)}, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (ac *AnalysisController) DeleteDocument(c *gin.Context) {
	if err := ac.analyses.DeleteDocument(c.Request.Context(), c.Param("id"), requester(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

func (ac *AnalysisController) GetStorageStats(c *gin.Context) {
	stats, err := ac.analyses.StorageStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"storage":   stats,
		"timestamp": time.Now().UTC(),
	})
}
