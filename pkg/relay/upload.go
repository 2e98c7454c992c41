package relay

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tomaslejdung/goflash/pkg/hub"
	"github.com/tomaslejdung/goflash/pkg/protocol"
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// handleUpload stores the posted image and announces it to ready sessions
func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize)

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image field required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type " + contentType})
		return
	}

	displayTime, err := strconv.ParseFloat(strings.TrimSpace(c.PostForm("displayTime")), 64)
	if err != nil {
		displayTime = protocol.DefaultDisplayTime
	}
	position, err := protocol.ParsePosition(c.PostForm("position"))
	if err != nil {
		position = protocol.PositionCenter
	}
	username := strings.TrimSpace(c.PostForm("username"))
	if username == "" {
		username = c.GetString(ctxUsername)
	}

	name := uuid.NewString() + ext
	if err := s.store.Put(c.Request.Context(), name, StoredImage{ContentType: contentType, Data: data}, s.cfg.ImageTTL); err != nil {
		s.log.Error().Err(err).Msg("Failed to store image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	url := s.imageURL(strings.TrimSuffix(name, ext), ext)
	evt := protocol.BroadcastEvent{
		URL:         url,
		DisplayTime: float64(protocol.ClampDisplayTime(displayTime)),
		Position:    position,
		Username:    username,
	}
	sent, err := s.hub.Broadcast(protocol.EventNewImage, evt, hub.IsReady)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to announce image")
	}

	s.log.Info().
		Str("url", url).
		Str("from", username).
		Int("bytes", len(data)).
		Int("sessions", sent).
		Msg("Image uploaded")
	c.JSON(http.StatusOK, protocol.UploadResponse{URL: url})
}

// imageURL renders the configured path template, absolute when PublicURL is set
func (s *Server) imageURL(id, ext string) string {
	path := s.pathTmpl.ExecuteString(map[string]interface{}{
		"id":  id,
		"ext": ext,
	})
	if s.cfg.PublicURL == "" {
		return path
	}
	return strings.TrimSuffix(s.cfg.PublicURL, "/") + path
}

func (s *Server) handleImage(c *gin.Context) {
	img, err := s.store.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrImageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		s.log.Error().Err(err).Msg("Failed to load image")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load image"})
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, img.ContentType, img.Data)
}
