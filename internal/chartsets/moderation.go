package chartsets

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/events"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errMissingNominations = errors.New("nomination service is required")

// ModerationConfig wires the modding discussion.
type ModerationConfig struct {
	Database    *gorm.DB
	Accounts    Accounts
	Nominations *NominationService
	Indexer     *Indexer
	Publisher   events.Publisher
	Clock       func() time.Time
	Logger      *zap.Logger
}

// PostInput is a new discussion post. Replies set ParentID and leave Type nil.
type PostInput struct {
	ChartID   *int64
	ParentID  *int64
	Type      *PostType
	Message   string
	Timestamp *float64
	Resolved  bool
	Reopened  bool
}

// Discussion is the modding history of a set.
type Discussion struct {
	Posts  []ModdingPost  `json:"posts"`
	Events []ModdingEvent `json:"events"`
}

// ModerationService manages the modding discussion of chart sets.
type ModerationService struct {
	db          *gorm.DB
	directory   Accounts
	nominations *NominationService
	clock       func() time.Time
	logger      *zap.Logger
	lifecycle   lifecycle
}

func NewModerationService(cfg ModerationConfig) (*ModerationService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Accounts == nil {
		return nil, newServiceError(opServiceNew, "missing_accounts", errMissingAccounts)
	}
	if cfg.Nominations == nil {
		return nil, newServiceError(opServiceNew, "missing_nominations", errMissingNominations)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ModerationService{
		db:          cfg.Database,
		directory:   cfg.Accounts,
		nominations: cfg.Nominations,
		clock:       clock,
		logger:      logger,
		lifecycle: lifecycle{
			db:        cfg.Database,
			indexer:   cfg.Indexer,
			publisher: cfg.Publisher,
			logger:    logger,
		},
	}, nil
}

// CreatePost adds a post to the discussion of setID. A problem raised by an
// account allowed to disqualify charts disqualifies the set in the same transaction.
func (s *ModerationService) CreatePost(ctx context.Context, setID, actorID int64, input PostInput) (ModdingPost, error) {
	actor, err := s.directory.FindByID(ctx, actorID)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ModdingPost{}, ErrNoPermission
	}
	if err != nil {
		s.logError(opCreatePost, "load_actor", err, zap.Int64(fieldAccountID, actorID))
		return ModdingPost{}, newServiceError(opCreatePost, "load_actor", err)
	}
	if strings.TrimSpace(input.Message) == "" {
		return ModdingPost{}, fmt.Errorf("%w: message is required", ErrInvalidPost)
	}

	now := s.clock().UTC()
	result := outcome{setID: setID}
	var post ModdingPost
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := lockChartSet(tx, setID)
		if err != nil {
			return err
		}

		var chart *Chart
		if input.ChartID != nil {
			chart, err = findChartInSet(tx, setID, *input.ChartID)
			if err != nil {
				return err
			}
		}

		post = ModdingPost{
			SetID:     setID,
			ChartID:   input.ChartID,
			AuthorID:  actorID,
			Message:   input.Message,
			CreatedAt: now,
		}

		var parent *ModdingPost
		if input.ParentID != nil {
			if input.Type != nil {
				return fmt.Errorf("%w: replies cannot carry a type", ErrInvalidPost)
			}
			parent, err = findPostInSet(tx, setID, *input.ParentID)
			if err != nil {
				return err
			}
			if parent.Type == PostSystem {
				return fmt.Errorf("%w: system posts cannot be replied to", ErrInvalidPost)
			}
			post.ParentID = &parent.ID
			post.Type = PostReply
		} else {
			if input.Type == nil || *input.Type >= PostReply || *input.Type < 0 {
				return fmt.Errorf("%w: top-level posts need a type", ErrInvalidPost)
			}
			post.Type = *input.Type
		}
		if post.Type.resolvable() {
			post.Status = PostStatusOpen
		}

		if input.Timestamp != nil {
			switch {
			case parent != nil:
				return fmt.Errorf("%w: replies cannot carry a timestamp", ErrInvalidPost)
			case chart == nil:
				return fmt.Errorf("%w: a timestamp needs a chart", ErrInvalidPost)
			case *input.Timestamp < 0:
				return fmt.Errorf("%w: timestamp cannot be negative", ErrInvalidPost)
			}
			post.Attributes = datatypes.NewJSONType(PostAttributes{Timestamp: input.Timestamp})
		}

		var transitions []PostAttributes
		if input.Resolved || input.Reopened {
			if parent == nil || !parent.Type.resolvable() {
				return fmt.Errorf("%w: only replies to problems and suggestions can resolve or reopen", ErrInvalidPost)
			}
			if input.Resolved {
				if parent.Status == PostStatusResolved {
					return fmt.Errorf("%w: post is already resolved", ErrInvalidPost)
				}
				if !canResolve(actor, set, chart) {
					return ErrNoPermission
				}
				parent.Status = PostStatusResolved
				transitions = append(transitions, PostAttributes{Resolved: true})
			}
			if input.Reopened {
				if parent.Status == PostStatusOpen {
					return fmt.Errorf("%w: post is already open", ErrInvalidPost)
				}
				parent.Status = PostStatusOpen
				transitions = append(transitions, PostAttributes{Reopened: true})
			}
			if err := tx.Model(&ModdingPost{}).Where("id = ?", parent.ID).Update("status", parent.Status).Error; err != nil {
				return err
			}
		}

		if err := tx.Create(&post).Error; err != nil {
			return err
		}

		for _, transition := range transitions {
			system := ModdingPost{
				SetID:      setID,
				ChartID:    input.ChartID,
				ParentID:   &parent.ID,
				AuthorID:   actorID,
				Type:       PostSystem,
				Attributes: datatypes.NewJSONType(transition),
				CreatedAt:  now,
			}
			if err := tx.Create(&system).Error; err != nil {
				return err
			}
			eventType := EventChartModdingPostReopened
			if transition.Resolved {
				eventType = EventChartModdingPostResolved
			}
			if err := appendEvent(tx, setID, eventType, &actorID, &parent.ID, now); err != nil {
				return err
			}
		}

		result.record(events.TypePostCreated, actorID, now, map[string]any{"post_id": post.ID, "type": post.Type.String()})

		if post.Type == PostProblem && actor.Has(accounts.PermissionDisqualifyCharts) {
			disqualified, err := s.nominations.disqualifyInTx(tx, setID, actorID, &post.ID)
			if err != nil {
				return err
			}
			result.reindex = disqualified.reindex
			result.envelopes = append(result.envelopes, disqualified.envelopes...)
		}
		return nil
	})
	if txErr != nil {
		if !isDomainError(txErr) {
			s.logError(opCreatePost, "transaction", txErr, zap.Int64(fieldSetID, setID), zap.Int64(fieldAccountID, actorID))
		}
		return ModdingPost{}, domainError(opCreatePost, "transaction", txErr)
	}

	s.lifecycle.finish(ctx, result)
	return post, nil
}

// Discussion returns every post and event of setID in creation order.
func (s *ModerationService) Discussion(ctx context.Context, setID int64) (Discussion, error) {
	db := s.db.WithContext(ctx)

	var sets int64
	if err := db.Model(&ChartSet{}).Where("id = ?", setID).Count(&sets).Error; err != nil {
		s.logError(opDiscussion, "lookup_set", err, zap.Int64(fieldSetID, setID))
		return Discussion{}, newServiceError(opDiscussion, "lookup_set", err)
	}
	if sets == 0 {
		return Discussion{}, ErrSetNotFound
	}

	discussion := Discussion{Posts: []ModdingPost{}, Events: []ModdingEvent{}}
	if err := db.Where("set_id = ?", setID).Order("id").Find(&discussion.Posts).Error; err != nil {
		s.logError(opDiscussion, "list_posts", err, zap.Int64(fieldSetID, setID))
		return Discussion{}, newServiceError(opDiscussion, "list_posts", err)
	}
	if err := db.Where("set_id = ?", setID).Order("id").Find(&discussion.Events).Error; err != nil {
		s.logError(opDiscussion, "list_events", err, zap.Int64(fieldSetID, setID))
		return Discussion{}, newServiceError(opDiscussion, "list_events", err)
	}
	return discussion, nil
}

func (s *ModerationService) logError(operation, reason string, err error, fields ...zap.Field) {
	logError(s.logger, operation, reason, err, fields...)
}

// canResolve reports whether actor may mark a post on set (and chart, if any) resolved.
func canResolve(actor accounts.Account, set ChartSet, chart *Chart) bool {
	if actor.Has(accounts.PermissionModerateCharts) || set.CreatorID == actor.ID {
		return true
	}
	return chart != nil && slices.Contains(chart.CreatorIDs(), actor.ID)
}

func findChartInSet(tx *gorm.DB, setID, chartID int64) (*Chart, error) {
	var chart Chart
	err := tx.Preload("Creators").Where("id = ? AND set_id = ?", chartID, setID).Take(&chart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChartNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chart, nil
}

func findPostInSet(tx *gorm.DB, setID, postID int64) (*ModdingPost, error) {
	var post ModdingPost
	err := tx.Where("id = ? AND set_id = ?", postID, setID).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}
