package sentryalert

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/pkg/subscription"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func newTestHub(t *testing.T) (*sentry.Hub, *captured) {
	t.Helper()
	c := &captured{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.events = append(c.events, e)
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), c
}

func TestObserver_CapturesFailures(t *testing.T) {
	hub, c := newTestHub(t)
	observe := NewObserver(hub)

	observe(&subscription.Outcome{
		Kind:       subscription.OutcomeFailed,
		EventID:    "evt_1",
		EventType:  "customer.subscription.updated",
		CustomerID: "cus_1",
		Err:        errors.New("store down"),
	})

	require.Len(t, c.events, 1)
	ev := c.events[0]
	assert.Equal(t, sentry.LevelError, ev.Level)
	assert.Equal(t, "customer.subscription.updated", ev.Tags["event_type"])
	assert.Equal(t, "failed", ev.Tags["outcome"])
	assert.Equal(t, "cus_1", ev.Contexts["subscription"]["customer_id"])
}

func TestObserver_NotFoundIsWarning(t *testing.T) {
	hub, c := newTestHub(t)

	NewObserver(hub)(&subscription.Outcome{
		Kind: subscription.OutcomeNotFound,
		Err:  subscription.ErrProfileNotFound,
	})

	require.Len(t, c.events, 1)
	assert.Equal(t, sentry.LevelWarning, c.events[0].Level)
}

func TestObserver_IgnoresSuccess(t *testing.T) {
	hub, c := newTestHub(t)
	observe := NewObserver(hub)

	observe(nil)
	observe(&subscription.Outcome{Kind: subscription.OutcomeApplied})
	observe(&subscription.Outcome{Kind: subscription.OutcomeStale})
	observe(&subscription.Outcome{Kind: subscription.OutcomeLogged})

	assert.Empty(t, c.events)
}

func TestObserver_ConcurrentOutcomesKeepTheirOwnScope(t *testing.T) {
	hub, c := newTestHub(t)
	observe := NewObserver(hub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			observe(&subscription.Outcome{
				Kind:       subscription.OutcomeFailed,
				EventID:    fmt.Sprintf("evt_%d", i),
				EventType:  fmt.Sprintf("type_%d", i),
				CustomerID: fmt.Sprintf("cus_%d", i),
				Err:        errors.New("store down"),
			})
		}(i)
	}
	wg.Wait()

	c.mu.Lock()
	events := append([]*sentry.Event(nil), c.events...)
	c.mu.Unlock()
	require.Len(t, events, 50)
	for _, ev := range events {
		sub := ev.Contexts["subscription"]
		id := sub["event_id"].(string)
		assert.Equal(t, "cus_"+id[len("evt_"):], sub["customer_id"])
		assert.Equal(t, "type_"+id[len("evt_"):], ev.Tags["event_type"])
	}

	// The shared hub scope is left untouched
	hub.CaptureMessage("plain")
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.events, 51)
	assert.Empty(t, c.events[50].Tags["outcome"])
}
