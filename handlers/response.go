package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"lmsquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var statusByKind = map[services.Kind]int{
	services.KindNotFound:     http.StatusNotFound,
	services.KindForbidden:    http.StatusForbidden,
	services.KindInvalidState: http.StatusConflict,
	services.KindExpired:      http.StatusGone,
	services.KindInvalidInput: http.StatusBadRequest,
	services.KindConflict:     http.StatusConflict,
	services.KindInternal:     http.StatusInternalServerError,
}

// respondError writes {success:false, message}. Internal errors are logged
// and reported generically.
func respondError(c *gin.Context, err error) {
	kind := services.ErrorKind(err)
	if kind == services.KindInternal {
		log.Printf("Internal error on %s %s: %v", c.Request.Method, c.FullPath(), err)
	}

	body := gin.H{"success": false, "message": services.PublicMessage(err)}
	if status, ok := services.BlockingStatus(err); ok {
		body["status"] = status
	}
	c.JSON(statusByKind[kind], body)
}

func currentUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "User not authenticated"})
		return 0, false
	}
	id, ok := userID.(uint)
	if !ok || id == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "User not authenticated"})
		return 0, false
	}
	return id, true
}

// bindJSON binds the body into req and reports validation failures as a
// field to tag map.
func bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	respondBindError(c, err)
	return false
}

// bindOptionalJSON is bindJSON for endpoints whose body may be omitted. A
// chunked body reports no length, so emptiness is only known after reading.
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody || c.Request.ContentLength == 0 {
		return true
	}
	err := c.ShouldBindJSON(req)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	respondBindError(c, err)
	return false
}

func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Validation failed", "errors": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
}

func uintParam(c *gin.Context, name string, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid " + what + " ID"})
		return 0, false
	}
	return uint(id), true
}

// attemptParam parses :id as an attempt id. A malformed id cannot exist, so it
// reads as not found.
func attemptParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "attempt not found"})
		return uuid.Nil, false
	}
	return id, true
}
