package chartsets

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/archive/archivetest"
	"github.com/KumiProject/chartsets/internal/status"
)

func postType(value PostType) *PostType {
	return &value
}

func TestCreatePostValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner", 0)
	member := env.account(t, "member", 0)
	set := env.submit(t, owner, archivetest.Chart{}).Set
	other := env.submit(t, owner, archivetest.Chart{}).Set
	chartID := set.Charts[0].ID
	foreignChartID := other.Charts[0].ID

	note, err := env.moderation.CreatePost(context.Background(), set.ID, member.ID, PostInput{Type: postType(PostNote), Message: "nice"})
	if err != nil {
		t.Fatalf("failed to create note: %v", err)
	}
	system, err := env.moderation.CreatePost(context.Background(), set.ID, owner.ID, PostInput{Type: postType(PostComment), Message: "thanks"})
	if err != nil {
		t.Fatalf("failed to create comment: %v", err)
	}
	if err := env.db.Model(&ModdingPost{}).Where("id = ?", system.ID).Update("type", PostSystem).Error; err != nil {
		t.Fatalf("failed to mark system post: %v", err)
	}

	missingPostID := int64(9999)
	negative := -5.0
	positive := 1500.0
	testCases := []struct {
		name     string
		setID    int64
		input    PostInput
		expected error
	}{
		{name: "missing type", setID: set.ID, input: PostInput{Message: "hello"}, expected: ErrInvalidPost},
		{name: "reply type", setID: set.ID, input: PostInput{Type: postType(PostReply), Message: "hello"}, expected: ErrInvalidPost},
		{name: "empty message", setID: set.ID, input: PostInput{Type: postType(PostNote), Message: "  "}, expected: ErrInvalidPost},
		{name: "type on reply", setID: set.ID, input: PostInput{ParentID: &note.ID, Type: postType(PostNote), Message: "hello"}, expected: ErrInvalidPost},
		{name: "reply to system post", setID: set.ID, input: PostInput{ParentID: &system.ID, Message: "hello"}, expected: ErrInvalidPost},
		{name: "missing parent", setID: set.ID, input: PostInput{ParentID: &missingPostID, Message: "hello"}, expected: ErrPostNotFound},
		{name: "chart of another set", setID: set.ID, input: PostInput{ChartID: &foreignChartID, Type: postType(PostNote), Message: "hello"}, expected: ErrChartNotFound},
		{name: "timestamp without chart", setID: set.ID, input: PostInput{Type: postType(PostNote), Timestamp: &positive, Message: "hello"}, expected: ErrInvalidPost},
		{name: "negative timestamp", setID: set.ID, input: PostInput{ChartID: &chartID, Type: postType(PostNote), Timestamp: &negative, Message: "hello"}, expected: ErrInvalidPost},
		{name: "timestamp on reply", setID: set.ID, input: PostInput{ChartID: &chartID, ParentID: &note.ID, Timestamp: &positive, Message: "hello"}, expected: ErrInvalidPost},
		{name: "resolve a note", setID: set.ID, input: PostInput{ParentID: &note.ID, Resolved: true, Message: "done"}, expected: ErrInvalidPost},
		{name: "missing set", setID: 9999, input: PostInput{Type: postType(PostNote), Message: "hello"}, expected: ErrSetNotFound},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := env.moderation.CreatePost(context.Background(), testCase.setID, member.ID, testCase.input); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}

	timed, err := env.moderation.CreatePost(context.Background(), set.ID, member.ID, PostInput{
		ChartID:   &chartID,
		Type:      postType(PostSuggestion),
		Timestamp: &positive,
		Message:   "move this note",
	})
	if err != nil {
		t.Fatalf("failed to create timed suggestion: %v", err)
	}
	if timed.Status != PostStatusOpen || timed.Attributes.Data().Timestamp == nil || *timed.Attributes.Data().Timestamp != positive {
		t.Fatalf("unexpected timed suggestion %+v", timed)
	}
	if note.Status != PostStatusNone {
		t.Fatalf("expected notes to carry no status, got %s", note.Status)
	}
}

func TestResolveAndReopenProblem(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner", 0)
	member := env.account(t, "member", 0)
	moderator := env.account(t, "moderator", accounts.PermissionModerateCharts)
	setID := env.submit(t, owner, archivetest.Chart{}).Set.ID

	problem, err := env.moderation.CreatePost(context.Background(), setID, member.ID, PostInput{Type: postType(PostProblem), Message: "offset is wrong"})
	if err != nil {
		t.Fatalf("failed to create problem: %v", err)
	}
	if problem.Status != PostStatusOpen {
		t.Fatalf("expected problems to open, got %s", problem.Status)
	}

	if _, err := env.moderation.CreatePost(context.Background(), setID, member.ID, PostInput{ParentID: &problem.ID, Resolved: true, Message: "fixed?"}); !errors.Is(err, ErrNoPermission) {
		t.Fatalf("expected members to be unable to resolve, got %v", err)
	}

	reply, err := env.moderation.CreatePost(context.Background(), setID, owner.ID, PostInput{ParentID: &problem.ID, Resolved: true, Message: "fixed"})
	if err != nil {
		t.Fatalf("owner failed to resolve: %v", err)
	}
	if reply.Type != PostReply || reply.ParentID == nil || *reply.ParentID != problem.ID {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if _, err := env.moderation.CreatePost(context.Background(), setID, moderator.ID, PostInput{ParentID: &problem.ID, Resolved: true, Message: "again"}); !errors.Is(err, ErrInvalidPost) {
		t.Fatalf("expected resolving twice to fail, got %v", err)
	}

	if _, err := env.moderation.CreatePost(context.Background(), setID, member.ID, PostInput{ParentID: &problem.ID, Reopened: true, Message: "still wrong"}); err != nil {
		t.Fatalf("member failed to reopen: %v", err)
	}

	discussion, err := env.moderation.Discussion(context.Background(), setID)
	if err != nil {
		t.Fatalf("failed to load discussion: %v", err)
	}
	var systemPosts int
	for _, post := range discussion.Posts {
		if post.ID == problem.ID && post.Status != PostStatusOpen {
			t.Fatalf("expected the problem to be open again, got %s", post.Status)
		}
		if post.Type == PostSystem {
			systemPosts++
		}
	}
	if systemPosts != 2 {
		t.Fatalf("expected two system posts, got %d", systemPosts)
	}
	types := make([]EventType, 0, len(discussion.Events))
	for _, event := range discussion.Events {
		types = append(types, event.Type)
	}
	if !slices.Equal(types, []EventType{EventChartModdingPostResolved, EventChartModdingPostReopened}) {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestChartCreatorResolvesChartPosts(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner", 0)
	mapper := env.account(t, "mapper", 0)
	member := env.account(t, "member", 0)
	set := env.submit(t, owner, archivetest.Chart{Creators: []string{"mapper"}}).Set
	chartID := set.Charts[0].ID

	suggestion, err := env.moderation.CreatePost(context.Background(), set.ID, member.ID, PostInput{ChartID: &chartID, Type: postType(PostSuggestion), Message: "louder"})
	if err != nil {
		t.Fatalf("failed to create suggestion: %v", err)
	}
	if _, err := env.moderation.CreatePost(context.Background(), set.ID, mapper.ID, PostInput{ChartID: &chartID, ParentID: &suggestion.ID, Resolved: true, Message: "done"}); err != nil {
		t.Fatalf("chart creator failed to resolve: %v", err)
	}
}

func TestProblemFromDisqualifierDisqualifiesSet(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner", 0)
	first := env.account(t, "first", accounts.PermissionNominateCharts)
	second := env.account(t, "second", accounts.PermissionNominateCharts)
	disqualifier := env.account(t, "disqualifier", accounts.PermissionDisqualifyCharts)
	setID := env.submit(t, owner, archivetest.Chart{}).Set.ID
	for _, nominator := range []accounts.Account{first, second} {
		if _, err := env.nominations.Nominate(context.Background(), setID, nominator.ID); err != nil {
			t.Fatalf("nomination failed: %v", err)
		}
	}

	problem, err := env.moderation.CreatePost(context.Background(), setID, disqualifier.ID, PostInput{Type: postType(PostProblem), Message: "unrankable"})
	if err != nil {
		t.Fatalf("failed to create problem: %v", err)
	}

	set := env.reload(t, setID)
	if set.Status != status.Pending || len(set.Nominations) != 0 || set.RankedOn != nil {
		t.Fatalf("expected the set to be disqualified, got %+v", set)
	}
	var disqualification ModdingEvent
	if err := env.db.Where("set_id = ? AND type = ?", setID, EventChartSetDisqualified).Take(&disqualification).Error; err != nil {
		t.Fatalf("expected a disqualification event: %v", err)
	}
	if disqualification.ParentID == nil || *disqualification.ParentID != problem.ID {
		t.Fatalf("expected the disqualification to reference the problem post")
	}
	document, _ := env.sink.Document("chartsets", setID)
	if document.Status != "Pending" {
		t.Fatalf("expected the pending status to be indexed, got %s", document.Status)
	}
}

func TestDiscussionReportsMissingSet(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.moderation.Discussion(context.Background(), 42); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("expected set not found, got %v", err)
	}
}
