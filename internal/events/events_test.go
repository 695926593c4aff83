package events

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-photos/internal/bus"
	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/logging"
	"github.com/tendant/simple-photos/pkg/schema"
)

func TestRecorderKeepsOrder(t *testing.T) {
	r := &Recorder{}
	var pub Publisher = r
	pub.Lifecycle(schema.LifecycleEvent{Stage: schema.StageReceived})
	pub.Lifecycle(schema.LifecycleEvent{Stage: schema.StageDownloading})
	pub.VariantsDone(schema.VariantsDone{JobID: "a", Stage: schema.StageCommitted})

	done := r.Done()
	require.Len(t, done, 1)
	assert.Equal(t, "a", done[0].JobID)
}

func TestNATSPublisherSubjects(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("Skipping integration test: NATS_URL not set")
	}
	client, err := bus.Connect(url, "events-test", logging.Discard())
	if err != nil {
		t.Skipf("Skipping integration test: nats not reachable: %v", err)
	}
	defer client.Close()

	subject := "photos.events.test." + domain.NewID().String()
	sub, err := client.Conn().SubscribeSync(subject + ".>")
	require.NoError(t, err)
	doneSub, err := client.Conn().SubscribeSync(subject)
	require.NoError(t, err)

	pub := NewNATS(client, subject, logging.Discard())
	pub.ImageAccepted(schema.ImageAccepted{ImageID: "img-1"})
	pub.VariantsDone(schema.VariantsDone{JobID: "job-1", Stage: schema.StageCommitted})
	require.NoError(t, client.Flush(2*time.Second))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, subject+".accepted", msg.Subject)

	msg, err = doneSub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got schema.VariantsDone
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "job-1", got.JobID)
}
