package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/idcard-ocr/internal/auth"
	"github.com/example/idcard-ocr/internal/imageprocessor"
	"github.com/example/idcard-ocr/internal/ocr"
	"github.com/example/idcard-ocr/internal/usecase"
)

// MaxUploadSize bounds the accepted card photo size.
const MaxUploadSize = 10 << 20

// multipartSlack leaves room for multipart headers around the largest photo.
const multipartSlack = 1 << 20

// Messages shown to users of the upload endpoint.
const (
	msgInvalidRequest = "වලංගු නොවන ඉල්ලීමක්"
	msgOCRFailed      = "OCR ක්‍රියාවලිය අසාර්ථක විය"
)

// ScanService is the subset of the use case the HTTP layer needs.
type ScanService interface {
	ScanImage(ctx context.Context, userID string, imageBytes []byte) (*usecase.ScanResult, error)
	GetResult(ctx context.Context, userID, scanID string) (*usecase.ScanResult, error)
	GetDuplicateReport(ctx context.Context, userID, scanID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// HealthChecker reports whether the OCR engine is usable.
type HealthChecker interface {
	Healthy() bool
}

// Options tunes request handling.
type Options struct {
	// ScanTimeout bounds a whole extraction call; zero means no limit.
	ScanTimeout time.Duration
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScanService, health HealthChecker, authMiddleware gin.HandlerFunc, opts Options) {
	router.GET("/health", func(c *gin.Context) {
		if health != nil && !health.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "ocr": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/scans", func(c *gin.Context) {
		userID, ok := auth.OwnerFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartSlack)
		file, err := c.FormFile("image")
		if err != nil {
			if isTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgInvalidRequest, "details": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest, "details": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgInvalidRequest, "details": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest, "details": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInvalidRequest, "details": "failed to read image"})
			return
		}
		if !imageprocessor.IsSupported(data) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error":   msgInvalidRequest,
				"details": "unsupported image type " + imageprocessor.DetectType(data),
			})
			return
		}

		ctx := c.Request.Context()
		if opts.ScanTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.ScanTimeout)
			defer cancel()
		}

		result, err := svc.ScanImage(ctx, userID, data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":    msgOCRFailed,
				"category": errorCategory(err),
				"details":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, result)
	})

	protected.GET("/scans/:id", func(c *gin.Context) {
		userID, _ := auth.OwnerFromContext(c.Request.Context())
		result, err := svc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	protected.GET("/scans/:id/duplicates", func(c *gin.Context) {
		userID, _ := auth.OwnerFromContext(c.Request.Context())
		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			writeLookupError(c, err)
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, gin.H{"scan_id": d.ScanID, "created_at": d.CreatedAt})
		}
		c.JSON(http.StatusOK, gin.H{
			"scan_id":    report.Scan.ScanID,
			"sha1_hash":  report.Scan.SHA1Hash,
			"duplicates": duplicates,
		})
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
}

// errorCategory names the pipeline failure for clients.
func errorCategory(err error) string {
	var decodeErr *imageprocessor.DecodeError
	var ocrErr *ocr.UnavailableError
	switch {
	case errors.As(err, &decodeErr):
		return "decode_error"
	case errors.As(err, &ocrErr):
		return "ocr_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}
