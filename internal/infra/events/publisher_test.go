package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"readiness-quiz-service/internal/domain"
)

func TestResultPublisherPublishesRecord(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pubsub := NewGoChannel(NewZapLogger(logger))
	defer pubsub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	messages, err := pubsub.Subscribe(ctx, TopicTestResultRecorded)
	require.NoError(t, err)

	publisher := NewResultPublisher(pubsub, "", logger)
	record := domain.TestResultRecord{
		AttemptID:      "a1",
		UserID:         "u1",
		CareerID:       domain.ProfileID("u1", "backend"),
		Specialisation: "backend",
		Category:       domain.CategoryTechnical,
		Level:          2,
		Score:          75,
		Passed:         true,
		QuestionsCount: 4,
	}
	require.NoError(t, publisher.SubmitTestResult(ctx, record))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "a1", msg.Metadata.Get("attempt_id"))
		assert.Equal(t, "u1", msg.Metadata.Get("partition_key"))

		event, err := Decode(msg)
		require.NoError(t, err)
		assert.Equal(t, TopicTestResultRecorded, event.Type)
		assert.Equal(t, event.ID, msg.UUID)
		assert.Equal(t, record, event.Data)
	case <-ctx.Done():
		require.FailNow(t, "no message received")
	}
}

func TestNewPublisherFallsBackToGoChannel(t *testing.T) {
	pub, err := NewPublisher(Config{Enabled: true, Publisher: "gochannel"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	rp := NewResultPublisher(pub, "custom", nil)
	assert.NoError(t, rp.SubmitTestResult(context.Background(), domain.TestResultRecord{AttemptID: "a2"}))
}
