package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"airsenal-control/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishReachesSubscriber(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe("job-1")
	defer sub.Unsubscribe()

	h.PublishLog("job-1", "line one")

	ev := <-sub.C
	assert.Equal(t, EventLog, ev.Type)
	assert.Equal(t, "line one", ev.Line)
	assert.Equal(t, "job-1", ev.JobID)
}

func TestPublishIsScopedToJob(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe("job-1")
	defer sub.Unsubscribe()

	h.PublishLog("job-2", "other job")

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestMultipleSubscribers(t *testing.T) {
	h := New(nil)
	first := h.Subscribe("job-1")
	second := h.Subscribe("job-1")
	defer first.Unsubscribe()
	defer second.Unsubscribe()

	h.PublishStatus("job-1", models.StatusRunning, "")

	assert.Equal(t, models.StatusRunning, (<-first.C).Status)
	assert.Equal(t, models.StatusRunning, (<-second.C).Status)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe("job-1")

	sub.Unsubscribe()
	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers("job-1"))

	// safe to call twice
	sub.Unsubscribe()
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := NewBuffered(nil, 2)
	slow := h.Subscribe("job-1")
	keen := h.Subscribe("job-1")
	defer keen.Unsubscribe()

	for i := 0; i < 4; i++ {
		h.PublishLog("job-1", "line")
		// keep the keen subscriber draining
		<-keen.C
	}

	// the slow subscriber overflowed its buffer of 2 and was dropped
	assert.Equal(t, 1, h.Subscribers("job-1"))

	drained := 0
	for range slow.C {
		drained++
	}
	assert.Equal(t, 2, drained)
}

func TestPublishOutputEvent(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe("job-1")
	defer sub.Unsubscribe()

	output := &models.Output{Type: models.OutputPrediction, SummaryText: "summary"}
	h.PublishOutput("job-1", output)

	ev := <-sub.C
	require.Equal(t, EventOutput, ev.Type)
	assert.Equal(t, output, ev.Output)
}
