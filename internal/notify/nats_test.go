package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/roundtally/internal/collector"
	"github.com/ernie/roundtally/internal/domain"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestPublishRun(t *testing.T) {
	ns := runServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe(SubjectPrefix+"*", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := Connect(ns.ClientURL(), nil)
	require.NoError(t, err)
	defer pub.Close()

	pub.PublishRun(domain.RunSummary{ServerID: 3, Status: collector.RunRefused})
	pub.PublishRun(domain.RunSummary{ServerID: 3, Status: collector.RunCompleted, Inserted: 12, Map: "de_nuke"})
	pub.PublishCheckpointReset(4)

	var got []*nats.Msg
	for range 2 {
		select {
		case m := <-msgs:
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	assert.Equal(t, "roundtally.ingest.3", got[0].Subject)
	var ev struct {
		Event    string            `json:"event"`
		ServerID int64             `json:"server_id"`
		Data     domain.RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].Data, &ev))
	assert.Equal(t, domain.EventIngestRun, ev.Event)
	assert.Equal(t, 12, ev.Data.Inserted)
	assert.Equal(t, "de_nuke", ev.Data.Map)

	assert.Equal(t, "roundtally.ingest.4", got[1].Subject)
	assert.Contains(t, string(got[1].Data), domain.EventCheckpointReset)

	select {
	case m := <-msgs:
		t.Fatalf("unexpected extra event on %s", m.Subject)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", nil)
	assert.Error(t, err)
}
