package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetUserStats returns processing state for one user's mailbox
func (h *Handlers) GetUserStats(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	config, err := h.store.ConfigByUserID(uint(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if config == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no mailbox configuration for user"})
		return
	}

	count, err := h.store.ProcessedCount(uint(userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":            config.UserID,
		"is_enabled":         config.IsEnabled,
		"polling_interval":   config.PollingInterval,
		"last_check_time":    config.LastCheckTime,
		"last_error":         config.LastError,
		"processed_messages": count,
	})
}
