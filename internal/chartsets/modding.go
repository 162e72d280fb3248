package chartsets

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType classifies an entry of a set's modding history.
type EventType int

const (
	EventMetadataChanged EventType = iota
	EventChartAdded
	EventChartRemoved
	EventChartSetNominated
	EventChartSetQualified
	EventChartSetDisqualified
	EventChartSetReset
	EventChartSetRanked
	EventChartSetUnranked
	EventChartModdingPostDeleted
	EventChartModdingPostResolved
	EventChartModdingPostReopened
)

var eventTypeNames = [...]string{
	"MetadataChanged",
	"ChartAdded",
	"ChartRemoved",
	"ChartSetNominated",
	"ChartSetQualified",
	"ChartSetDisqualified",
	"ChartSetReset",
	"ChartSetRanked",
	"ChartSetUnranked",
	"ChartModdingPostDeleted",
	"ChartModdingPostResolved",
	"ChartModdingPostReopened",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// MarshalText renders the event type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ModdingEvent is an append-only entry of a set's history.
type ModdingEvent struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SetID            int64     `gorm:"column:set_id;not null;index"`
	ParentID         *int64    `gorm:"column:parent_id"`
	Type             EventType `gorm:"column:type;not null"`
	ActorID          *int64    `gorm:"column:actor"`
	AlternateMessage *string   `gorm:"column:alternate_message;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing modding events.
func (ModdingEvent) TableName() string {
	return "chart_modding_events"
}

// PostType classifies a discussion post.
type PostType int

const (
	PostNote PostType = iota
	PostSuggestion
	PostComment
	PostProblem
	PostPraise
	PostReply
	PostSystem
)

var postTypeNames = [...]string{"Note", "Suggestion", "Comment", "Problem", "Praise", "Reply", "System"}

func (t PostType) String() string {
	if t < 0 || int(t) >= len(postTypeNames) {
		return fmt.Sprintf("PostType(%d)", int(t))
	}
	return postTypeNames[t]
}

func (t PostType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParsePostType resolves a type a member may choose for a top-level post.
func ParsePostType(raw string) (PostType, error) {
	for index, name := range postTypeNames[:PostReply] {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return PostType(index), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown post type %q", ErrInvalidPost, raw)
}

func (t PostType) resolvable() bool {
	return t == PostProblem || t == PostSuggestion
}

// PostStatus tracks whether an issue raised by a post is settled.
type PostStatus int

const (
	PostStatusNone PostStatus = iota
	PostStatusResolved
	PostStatusOpen
)

var postStatusNames = [...]string{"None", "Resolved", "Open"}

func (s PostStatus) String() string {
	if s < 0 || int(s) >= len(postStatusNames) {
		return fmt.Sprintf("PostStatus(%d)", int(s))
	}
	return postStatusNames[s]
}

func (s PostStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PostAttributes are optional flags of a post. Timestamp is a chart position in milliseconds.
type PostAttributes struct {
	Timestamp *float64 `json:"timestamp,omitempty"`
	Resolved  bool     `json:"resolved,omitempty"`
	Reopened  bool     `json:"reopened,omitempty"`
}

// ModdingPost is an entry of a set's modding discussion.
type ModdingPost struct {
	ID         int64                              `gorm:"column:id;primaryKey;autoIncrement"`
	SetID      int64                              `gorm:"column:set_id;not null;index"`
	ChartID    *int64                             `gorm:"column:chart_id"`
	ParentID   *int64                             `gorm:"column:parent_id;index"`
	AuthorID   int64                              `gorm:"column:author_id;not null"`
	Type       PostType                           `gorm:"column:type;not null"`
	Status     PostStatus                         `gorm:"column:status;not null"`
	Message    string                             `gorm:"column:message;type:text;not null"`
	Attributes datatypes.JSONType[PostAttributes] `gorm:"column:attributes"`
	CreatedAt  time.Time                          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                          `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt  gorm.DeletedAt                     `gorm:"column:deleted_at;index"`
}

// TableName exposes the table backing discussion posts.
func (ModdingPost) TableName() string {
	return "chart_modding_posts"
}
