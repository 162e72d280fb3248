package chartsets

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/archive/archivetest"
	"github.com/KumiProject/chartsets/internal/status"
)

func TestProcessDueRanksQualifiedSets(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner", 0)
	first := env.account(t, "first", accounts.PermissionNominateCharts)
	second := env.account(t, "second", accounts.PermissionNominateCharts)
	setID := env.submit(t, owner, archivetest.Chart{}).Set.ID
	for _, nominator := range []accounts.Account{first, second} {
		if _, err := env.nominations.Nominate(context.Background(), setID, nominator.ID); err != nil {
			t.Fatalf("nomination failed: %v", err)
		}
	}

	ranked, err := env.ranking.ProcessDue(context.Background())
	if err != nil || ranked != 0 {
		t.Fatalf("expected nothing due yet, got %d (%v)", ranked, err)
	}

	env.clock.Advance(DefaultRankDelay + time.Minute)
	ranked, err = env.ranking.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process due failed: %v", err)
	}
	if ranked != 1 {
		t.Fatalf("expected one ranked set, got %d", ranked)
	}

	set := env.reload(t, setID)
	if set.Status != status.Ranked || set.Charts[0].Status != status.Ranked {
		t.Fatalf("expected a ranked set and chart, got %s and %s", set.Status, set.Charts[0].Status)
	}
	if set.RankedOn == nil || !withinSecond(*set.RankedOn, env.clock.Now()) {
		t.Fatalf("expected ranked_on to be stamped with the ranking time, got %v", set.RankedOn)
	}
	if total := env.count(t, &RankingQueueEntry{}, "set_id = ?", setID); total != 0 {
		t.Fatalf("expected the queue entry to be consumed")
	}
	types := env.eventTypes(t, setID)
	if types[len(types)-1] != EventChartSetRanked {
		t.Fatalf("expected a ranked event, got %v", types)
	}
	document, _ := env.sink.Document("chartsets", setID)
	if document.Status != "Ranked" {
		t.Fatalf("expected the ranked status to be indexed, got %s", document.Status)
	}

	ranked, err = env.ranking.ProcessDue(context.Background())
	if err != nil || ranked != 0 {
		t.Fatalf("expected an empty queue, got %d (%v)", ranked, err)
	}
}

func TestProcessDueDropsEntriesOfUnqualifiedSets(t *testing.T) {
	env := newTestEnv(t)
	owner := env.account(t, "owner", 0)
	setID := env.submit(t, owner, archivetest.Chart{}).Set.ID

	stale := RankingQueueEntry{SetID: setID, CreatedAt: testEpoch, RankedAt: testEpoch.Add(-time.Hour)}
	if err := env.db.Create(&stale).Error; err != nil {
		t.Fatalf("failed to queue set: %v", err)
	}

	ranked, err := env.ranking.ProcessDue(context.Background())
	if err != nil || ranked != 0 {
		t.Fatalf("expected nothing ranked, got %d (%v)", ranked, err)
	}
	if total := env.count(t, &RankingQueueEntry{}, "1 = 1"); total != 0 {
		t.Fatalf("expected the stale entry to be removed")
	}
	if set := env.reload(t, setID); set.Status != status.Pending {
		t.Fatalf("expected the set to stay pending, got %s", set.Status)
	}
	if slices.Contains(env.eventTypes(t, setID), EventChartSetRanked) {
		t.Fatalf("expected no ranked event")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.ranking.Run(ctx, time.Millisecond)
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected the cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to stop after cancellation")
	}
}
