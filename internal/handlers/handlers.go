package handlers

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/hairstyle-api/internal/blobid"
	"github.com/example/hairstyle-api/internal/blobstore"
	"github.com/example/hairstyle-api/internal/inference"
	"github.com/example/hairstyle-api/internal/pipeline"
)

// MaxUploadSize bounds a single image upload.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. Every route
// except /health sits behind the auth middleware.
func RegisterRoutes(router *gin.Engine, p *pipeline.Pipeline, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("", authMiddleware)

	protected.POST("/images", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		payload, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		receipt, err := p.Upload(
			c.Request.Context(),
			payload,
			file.Filename,
			file.Header.Get("Content-Type"),
			c.PostForm("description"),
		)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, receipt)
	})

	protected.GET("/images/:id", func(c *gin.Context) {
		blob, err := p.Fetch(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":           blob.ID,
			"image_base64": base64.StdEncoding.EncodeToString(blob.Payload),
			"filename":     blob.Filename,
			"description":  blob.Description,
		})
	})

	protected.GET("/analyze/:id", func(c *gin.Context) {
		analysis, err := p.Analyze(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, analysis)
	})

	protected.GET("/swap/:source_id/:ref_id", func(c *gin.Context) {
		result, err := p.Swap(c.Request.Context(), c.Param("source_id"), c.Param("ref_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

// respondError maps the error taxonomy to status codes in one place:
// malformed input 400, absent blob 404, failed remote inference 502,
// anything else (storage and the like) 500.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, blobid.ErrInvalid), errors.Is(err, pipeline.ErrEmptyPayload):
		status = http.StatusBadRequest
	case errors.Is(err, blobstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, inference.ErrInference):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
