package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/findoc/backend/internal/llm"
	"github.com/gin-gonic/gin"
)

type LLMController struct {
	provider llm.Provider
}

func NewLLMController(provider llm.Provider) *LLMController {
	return &LLMController{provider: provider}
}

// GetLLMStatus reports whether the analysis backend is reachable.
func (lc *LLMController) GetLLMStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := gin.H{
		"provider": lc.provider.Name(),
		"model":    lc.provider.Model(),
		"healthy":  true,
	}
	if err := lc.provider.CheckHealth(ctx); err != nil {
		status["healthy"] = false
		status["error"] = err.Error()
	}
	c.JSON(http.StatusOK, status)
}

func (lc *LLMController) GetLLMAPICalls(c *gin.Context) {
	calls := lc.provider.Calls().List()
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"total": len(calls),
	})
}

func (lc *LLMController) ClearLLMAPICalls(c *gin.Context) {
	lc.provider.Calls().Clear()
	c.JSON(http.StatusOK, gin.H{"message": "LLM API call history cleared"})
}
