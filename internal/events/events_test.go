package events_test

import (
	"testing"

	"feedsync/internal/events"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := events.NewBus()

	var got []string
	bus.Subscribe(func(e events.Event) { got = append(got, "first:"+string(e.Kind)) })
	bus.Subscribe(func(e events.Event) { got = append(got, "second:"+string(e.Kind)) })

	bus.Publish(events.Event{Kind: events.KindArticlesChanged, AccountID: 1})

	assert.Equal(t, []string{"first:articles_changed", "second:articles_changed"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()

	calls := 0
	unsubscribe := bus.Subscribe(func(events.Event) { calls++ })

	bus.Publish(events.Event{Kind: events.KindSyncStarted})
	unsubscribe()
	unsubscribe()
	bus.Publish(events.Event{Kind: events.KindSyncFinished})

	assert.Equal(t, 1, calls)
}

func TestBusHandlerMaySubscribe(t *testing.T) {
	bus := events.NewBus()

	nested := 0
	bus.Subscribe(func(events.Event) {
		bus.Subscribe(func(events.Event) { nested++ })
	})

	bus.Publish(events.Event{Kind: events.KindStarredChanged})
	assert.Equal(t, 0, nested, "handlers added during publish wait for the next event")

	bus.Publish(events.Event{Kind: events.KindStarredChanged})
	assert.Equal(t, 1, nested)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *events.Bus

	assert.NotPanics(t, func() {
		bus.Publish(events.Event{Kind: events.KindCurrentAccountChanged})
	})
}
