package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/core/async"
	"github.com/joseph-ayodele/flyerscan/internal/geo"
)

// multipart envelope allowance on top of the image limit
const formOverhead = 1 << 20

// handleProcess accepts one image and answers 202 with the job id before any
// extraction work starts.
func (s *Server) handleProcess(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxImage+formOverhead)

	fh, err := c.FormFile("image")
	if err != nil {
		if tooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	if fh.Size > s.maxImage {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
		return
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
		return
	}

	user, err := userContext(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	source := strings.TrimSpace(c.PostForm("source"))
	if source == "" {
		source = "upload"
	}
	// an unknown sessionId names a new session, the way drop-folder ingest does
	sid := strings.TrimSpace(c.PostForm("sessionId"))
	v := common.NewValidator().
		Field("image", image, common.Required).
		Field("source", source, common.MaxLength(64)).
		Field("sessionId", sid, common.MaxLength(64))
	if err := common.ValidateAndReturnError(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": v.ErrorMessage()})
		return
	}

	job := s.sessions.CreateJob(source)
	if sid != "" {
		if err := s.sessions.AttachJob(sid, job.ID); err != nil {
			s.logger.Error("http.process.attach_failed", "job_id", job.ID, "session_id", sid, "error", err)
			s.sessions.Fail(job.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not attach job to session", "jobId": job.ID})
			return
		}
	}

	task := async.Task{
		JobID:       job.ID,
		Source:      source,
		SubmittedAt: time.Now(),
		Request: core.Request{
			Image:    image,
			MimeType: fh.Header.Get("Content-Type"),
			User:     user,
		},
	}
	if err := s.queue.Enqueue(c.Request.Context(), task); err != nil {
		s.logger.Warn("http.process.rejected", "job_id", job.ID, "error", err)
		s.sessions.Fail(job.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is busy, retry later", "jobId": job.ID})
		return
	}

	s.logger.Info("http.process.accepted",
		"request_id", common.RequestIDFromContext(c.Request.Context()),
		"job_id", job.ID,
		"bytes", len(image),
		"source", source,
	)
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

// userContext reads the optional location hints. Coordinates come as a pair.
func userContext(c *gin.Context) (*geo.UserContext, error) {
	latRaw := strings.TrimSpace(c.PostForm("latitude"))
	lonRaw := strings.TrimSpace(c.PostForm("longitude"))
	cityState := strings.TrimSpace(c.PostForm("cityState"))

	var point *orb.Point
	if latRaw != "" || lonRaw != "" {
		if latRaw == "" || lonRaw == "" {
			return nil, errors.New("latitude and longitude must be sent together")
		}
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lon, lonErr := strconv.ParseFloat(lonRaw, 64)
		if latErr != nil || lonErr != nil {
			return nil, errors.New("latitude and longitude must be numbers")
		}
		v := common.NewValidator().
			Field("latitude", lat, common.Latitude).
			Field("longitude", lon, common.Longitude)
		if v.HasErrors() {
			return nil, errors.New(v.ErrorMessage())
		}
		point = &orb.Point{lon, lat}
	}
	if point == nil && cityState == "" {
		return nil, nil
	}
	return &geo.UserContext{CityState: cityState, Coordinates: point}, nil
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
