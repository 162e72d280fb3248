package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KumiProject/chartsets/internal/chartsets"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/KumiProject/chartsets/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	accountIDContextKey     = "kumi_account_id"
	requestIDHeader         = "X-Request-ID"
	defaultHeartbeatPeriod  = 15 * time.Second
	defaultUploadLimitBytes = 64 << 20
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingSubmissions    = errors.New("submission service dependency required")
	errMissingNominations    = errors.New("nomination service dependency required")
	errMissingModeration     = errors.New("moderation service dependency required")
	errMissingSubscriber     = errors.New("event subscriber dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to the account id in its subject.
type TokenValidator interface {
	ValidateToken(token string) (int64, error)
}

// SetSubmitter accepts archives for new and existing chart sets.
type SetSubmitter interface {
	Submit(ctx context.Context, request chartsets.SubmitRequest) (chartsets.SubmissionResult, error)
	Update(ctx context.Context, request chartsets.UpdateRequest) (chartsets.SubmissionResult, error)
	Get(ctx context.Context, setID int64) (chartsets.ChartSet, error)
}

// SetNominator records nominations.
type SetNominator interface {
	Nominate(ctx context.Context, setID, actorID int64) (chartsets.ChartSet, error)
}

// SetModerator reads and extends the modding discussion of a set.
type SetModerator interface {
	CreatePost(ctx context.Context, setID, actorID int64, input chartsets.PostInput) (chartsets.ModdingPost, error)
	Discussion(ctx context.Context, setID int64) (chartsets.Discussion, error)
}

// EventSubscriber streams the lifecycle envelopes of one set.
type EventSubscriber interface {
	Subscribe(ctx context.Context, setID int64) (<-chan events.Envelope, func())
}

type Dependencies struct {
	Tokens          TokenValidator
	Submissions     SetSubmitter
	Nominations     SetNominator
	Moderation      SetModerator
	Events          EventSubscriber
	Metrics         *metrics.Metrics
	ScratchDir      string
	UploadMaxBytes  int64
	HeartbeatPeriod time.Duration
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Submissions == nil {
		return nil, errMissingSubmissions
	}
	if deps.Nominations == nil {
		return nil, errMissingNominations
	}
	if deps.Moderation == nil {
		return nil, errMissingModeration
	}
	if deps.Events == nil {
		return nil, errMissingSubscriber
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uploadLimit := deps.UploadMaxBytes
	if uploadLimit <= 0 {
		uploadLimit = defaultUploadLimitBytes
	}
	heartbeat := deps.HeartbeatPeriod
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatPeriod
	}

	handler := &httpHandler{
		tokens:      deps.Tokens,
		submissions: deps.Submissions,
		nominations: deps.Nominations,
		moderation:  deps.Moderation,
		events:      deps.Events,
		metrics:     deps.Metrics,
		scratchDir:  deps.ScratchDir,
		uploadLimit: uploadLimit,
		heartbeat:   heartbeat,
		logger:      logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(assignRequestID)
	router.Use(handler.observeRequest)
	router.Use(corsMiddleware())

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/sets/:id", handler.handleGetSet)
	router.GET("/sets/:id/discussion", handler.handleDiscussion)
	router.GET("/sets/:id/events/stream", handler.handleEventStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sets", handler.handleSubmit)
	protected.PUT("/sets", handler.handleUpdate)
	protected.POST("/sets/:id/nominate", handler.handleNominate)
	protected.POST("/sets/:id/posts", handler.handleCreatePost)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	submissions SetSubmitter
	nominations SetNominator
	moderation  SetModerator
	events      EventSubscriber
	metrics     *metrics.Metrics
	scratchDir  string
	uploadLimit int64
	heartbeat   time.Duration
	logger      *zap.Logger
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:   []string{requestIDHeader},
		MaxAge:          12 * time.Hour,
	})
}

// assignRequestID keeps a caller supplied request id when it is a UUID and
// otherwise mints one.
func assignRequestID(c *gin.Context) {
	requestID := c.GetHeader(requestIDHeader)
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	c.Header(requestIDHeader, requestID)
	c.Next()
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	startedAt := time.Now()
	c.Next()
	h.metrics.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), startedAt)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	accountID, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(accountIDContextKey, accountID)
	c.Next()
}

func accountIDFrom(c *gin.Context) (int64, bool) {
	value, ok := c.Get(accountIDContextKey)
	if !ok {
		return 0, false
	}
	accountID, ok := value.(int64)
	return accountID, ok && accountID > 0
}

func setIDParam(c *gin.Context) (int64, bool) {
	setID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || setID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_set_id"})
		return 0, false
	}
	return setID, true
}
