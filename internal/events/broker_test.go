package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randr97/mage-ai/internal/status"
)

func TestBrokerDeliversInEmissionOrder(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	sub := broker.Subscribe("run-1")

	broker.Publish(Output("run-1", "demo", "load", "first"))
	broker.Publish(Output("run-1", "demo", "load", "second"))
	broker.Publish(Completion("run-1", "demo", "load", status.Succeeded, nil))
	broker.CloseRun("run-1")

	var got []Event
	for ev := range sub.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	require.Equal(t, []int{1, 2, 3}, []int{got[0].Seq, got[1].Seq, got[2].Seq})
	require.Equal(t, "first", got[0].Text)
	require.Equal(t, KindCompletion, got[2].Kind)
	require.Equal(t, status.Succeeded, got[2].FinalStatus)
	require.Zero(t, sub.Dropped())
}

func TestBrokerLateSubscriberOnlySeesForwardEvents(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	broker.Publish(Output("run-1", "demo", "load", "missed"))

	sub := broker.Subscribe("run-1")
	broker.Publish(Output("run-1", "demo", "load", "seen"))
	broker.CloseRun("run-1")

	var got []Event
	for ev := range sub.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 1)
	require.Equal(t, "seen", got[0].Text)
	require.Equal(t, 2, got[0].Seq)
}

func TestBrokerIsolatesRuns(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	subA := broker.Subscribe("run-a")
	subB := broker.Subscribe("run-b")

	broker.Publish(Output("run-a", "demo", "load", "only a"))
	broker.CloseRun("run-a")
	broker.CloseRun("run-b")

	var gotA, gotB []Event
	for ev := range subA.Events() {
		gotA = append(gotA, ev)
	}
	for ev := range subB.Events() {
		gotB = append(gotB, ev)
	}

	require.Len(t, gotA, 1)
	require.Empty(t, gotB)
}

func TestBrokerSequenceResetsAcrossRuns(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	first := broker.Publish(Output("run-1", "demo", "load", "x"))
	require.Equal(t, 1, first.Seq)
	broker.CloseRun("run-1")

	second := broker.Publish(Output("run-1", "demo", "load", "y"))
	require.Equal(t, 1, second.Seq, "a new run starts a fresh sequence")
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	sub := broker.Subscribe("run-1")
	sub.Close()

	broker.Publish(Output("run-1", "demo", "load", "after close"))

	_, open := <-sub.Events()
	require.False(t, open)

	// Closing twice or after CloseRun must not panic.
	sub.Close()
	broker.CloseRun("run-1")
}

func TestBrokerCountsDropsForSlowSubscribers(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	sub := broker.Subscribe("run-1")

	for i := 0; i < subscriptionBuffer+5; i++ {
		broker.Publish(Output("run-1", "demo", "load", "line"))
	}

	require.Equal(t, 5, sub.Dropped())
}
