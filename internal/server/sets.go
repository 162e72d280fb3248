package server

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/chartsets"
	"github.com/KumiProject/chartsets/internal/status"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	formFieldArchive     = "set"
	formFieldDescription = "description"
	formFieldStatus      = "status"
	eventHeartbeat       = "heartbeat"
)

type uploadForm struct {
	archivePath string
	description *string
	status      *status.Status
}

// readUploadForm stores the uploaded archive in a scratch file. The caller
// removes the file through the returned cleanup.
func (h *httpHandler) readUploadForm(c *gin.Context) (uploadForm, func(), bool) {
	header, err := c.FormFile(formFieldArchive)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_archive"})
		return uploadForm{}, nil, false
	}

	var form uploadForm
	if raw, ok := c.GetPostForm(formFieldStatus); ok && strings.TrimSpace(raw) != "" {
		parsed, err := status.Parse(raw)
		if err != nil {
			h.respondError(c, err)
			return uploadForm{}, nil, false
		}
		form.status = &parsed
	}
	if description, ok := c.GetPostForm(formFieldDescription); ok && strings.TrimSpace(description) != "" {
		form.description = &description
	}

	file, err := header.Open()
	if err != nil {
		h.respondError(c, err)
		return uploadForm{}, nil, false
	}
	defer file.Close()

	form.archivePath, err = archive.SaveUpload(file, h.scratchDir, h.uploadLimit)
	if err != nil {
		h.respondError(c, err)
		return uploadForm{}, nil, false
	}
	cleanup := func() {
		if err := os.Remove(form.archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("failed to remove upload", zap.String("path", form.archivePath), zap.Error(err))
		}
	}
	return form, cleanup, true
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	form, cleanup, ok := h.readUploadForm(c)
	if !ok {
		return
	}
	defer cleanup()

	submissionStatus := status.Pending
	if form.status != nil {
		submissionStatus = *form.status
	}
	result, err := h.submissions.Submit(c.Request.Context(), chartsets.SubmitRequest{
		ArchivePath: form.archivePath,
		UploaderID:  accountID,
		Description: form.description,
		Status:      submissionStatus,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submissionPayload{
		Set:  toSetPayload(result.Set),
		Meta: submissionMetaPayload{Charts: result.Charts},
	})
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	form, cleanup, ok := h.readUploadForm(c)
	if !ok {
		return
	}
	defer cleanup()

	result, err := h.submissions.Update(c.Request.Context(), chartsets.UpdateRequest{
		ArchivePath: form.archivePath,
		UploaderID:  accountID,
		Description: form.description,
		Status:      form.status,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, submissionPayload{
		Set:  toSetPayload(result.Set),
		Meta: submissionMetaPayload{Charts: result.Charts},
	})
}

func (h *httpHandler) handleGetSet(c *gin.Context) {
	setID, ok := setIDParam(c)
	if !ok {
		return
	}
	set, err := h.submissions.Get(c.Request.Context(), setID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSetPayload(set))
}

func (h *httpHandler) handleNominate(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	setID, ok := setIDParam(c)
	if !ok {
		return
	}
	set, err := h.nominations.Nominate(c.Request.Context(), setID, accountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSetPayload(set))
}

func (h *httpHandler) handleDiscussion(c *gin.Context) {
	setID, ok := setIDParam(c)
	if !ok {
		return
	}
	discussion, err := h.moderation.Discussion(c.Request.Context(), setID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDiscussionPayload(discussion))
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	setID, ok := setIDParam(c)
	if !ok {
		return
	}
	var request createPostRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	input := chartsets.PostInput{
		ChartID:   request.ChartID,
		ParentID:  request.ParentID,
		Message:   request.Message,
		Timestamp: request.Timestamp,
		Resolved:  request.Resolved,
		Reopened:  request.Reopened,
	}
	if request.Type != nil {
		postType, err := chartsets.ParsePostType(*request.Type)
		if err != nil {
			h.respondError(c, err)
			return
		}
		input.Type = &postType
	}

	post, err := h.moderation.CreatePost(c.Request.Context(), setID, accountID, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPostPayload(post))
}

// handleEventStream relays the lifecycle envelopes of a set as server-sent
// events until the client goes away.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	setID, ok := setIDParam(c)
	if !ok {
		return
	}
	if _, err := h.submissions.Get(c.Request.Context(), setID); err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, setID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case envelope, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(envelope.Type, envelope)
			return true
		case at := <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"at": at.UTC()})
			return true
		}
	})
}
