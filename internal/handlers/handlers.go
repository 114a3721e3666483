// Package handlers exposes the match use case over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/fingerprint-match/internal/imaging"
	"github.com/example/fingerprint-match/internal/matcher"
	"github.com/example/fingerprint-match/internal/usecase"
)

// MaxUploadSize is the default cap on a decoded fingerprint upload.
const MaxUploadSize = 10 << 20

// envelopeAllowance covers multipart framing and JSON syntax around the payload.
const envelopeAllowance = 1 << 20

// MatchService is the use case surface served over HTTP.
type MatchService interface {
	Health(ctx context.Context) usecase.HealthStatus
	MatchFingerprint(ctx context.Context, imageBytes []byte) (*usecase.MatchResponse, error)
	GetResult(ctx context.Context, requestID string) (*usecase.MatchResponse, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type matchRequest struct {
	FingerPrintBase64 string `json:"fingerPrintBase64"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. maxUpload caps
// the decoded image size; zero means MaxUploadSize.
func RegisterRoutes(router *gin.Engine, svc MatchService, maxUpload int64) {
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		status := svc.Health(c.Request.Context())
		if !status.Healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": status.Message})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": status.Message})
	})

	router.POST("/match", func(c *gin.Context) {
		data, status, msg := readUpload(c, maxUpload)
		if status != 0 {
			c.JSON(status, gin.H{"error": msg})
			return
		}

		resp, err := svc.MatchFingerprint(c.Request.Context(), data)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/match/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		resp, err := svc.GetResult(c.Request.Context(), requestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readUpload extracts the image bytes from a JSON or multipart body. A
// non-zero status reports a rejected request.
func readUpload(c *gin.Context, maxUpload int64) ([]byte, int, string) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload*4/3+envelopeAllowance)

	switch c.ContentType() {
	case gin.MIMEJSON:
		var req matchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if isTooLarge(err) {
				return nil, http.StatusRequestEntityTooLarge, "upload too large"
			}
			return nil, http.StatusBadRequest, "invalid JSON body"
		}
		if req.FingerPrintBase64 == "" {
			return nil, http.StatusBadRequest, "fingerPrintBase64 is required"
		}
		data, err := imaging.DecodeBase64(req.FingerPrintBase64)
		if err != nil {
			return nil, http.StatusBadRequest, "Invalid Base64 data: " + err.Error()
		}
		if int64(len(data)) > maxUpload {
			return nil, http.StatusRequestEntityTooLarge, "upload too large"
		}
		return data, 0, ""

	case gin.MIMEMultipartPOSTForm:
		file, err := c.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				return nil, http.StatusRequestEntityTooLarge, "upload too large"
			}
			return nil, http.StatusBadRequest, "fingerprint image file is required"
		}
		if file.Size > maxUpload {
			return nil, http.StatusRequestEntityTooLarge, "upload too large"
		}
		if ct := file.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" && !strings.HasPrefix(ct, "image/") {
			return nil, http.StatusUnsupportedMediaType, "unsupported content type " + ct
		}

		src, err := file.Open()
		if err != nil {
			return nil, http.StatusBadRequest, "unable to open image"
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			return nil, http.StatusInternalServerError, "failed to read image"
		}
		return data, 0, ""

	default:
		return nil, http.StatusUnsupportedMediaType, "expected application/json or multipart/form-data"
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matcher.ErrInvalidInput), errors.Is(err, matcher.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or corrupted image format"})
	case errors.Is(err, usecase.ErrResultNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	case errors.Is(err, matcher.ErrDependencyUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is not ready"})
	case errors.Is(err, matcher.ErrStoreQuery):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "A server error occurred during database matching"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
	_ = c.Error(err)
}
