package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KumiProject/chartsets/internal/chartsets"
	"github.com/KumiProject/chartsets/internal/events"
	"github.com/gin-gonic/gin"
)

func TestEventStreamRelaysEnvelopes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broadcaster := events.NewBroadcaster()
	handler, err := NewHTTPHandler(Dependencies{
		Tokens:          stubTokenValidator{accountID: 5},
		Submissions:     &stubSubmitter{},
		Nominations:     &stubNominator{},
		Moderation:      &stubModerator{},
		Events:          broadcaster,
		HeartbeatPeriod: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/sets/9/events/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected ok, got %d", response.StatusCode)
	}

	reader := bufio.NewReader(response.Body)
	nextEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("stream ended early: %v", err)
			}
			if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event:"); ok {
				return name
			}
		}
	}

	// The first heartbeat proves the subscription is registered.
	if name := nextEvent(); name != eventHeartbeat {
		t.Fatalf("expected a heartbeat first, got %s", name)
	}
	envelope := events.NewEnvelope(events.TypeNominated, 9, 5, time.Now(), nil)
	if err := broadcaster.Publish(context.Background(), envelope); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	for {
		name := nextEvent()
		if name == eventHeartbeat {
			continue
		}
		if name != events.TypeNominated {
			t.Fatalf("expected %s, got %s", events.TypeNominated, name)
		}
		break
	}
}

func TestEventStreamRejectsUnknownSet(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.submissions.getErr = chartsets.ErrSetNotFound

	recorder := fixture.serve(httptest.NewRequest(http.MethodGet, "/sets/9/events/stream", http.NoBody))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", recorder.Code)
	}
}
