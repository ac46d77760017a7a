package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server    *httptest.Server
	received  chan models.Envelope
	conns     chan *websocket.Conn
	connCount int32
}

func newTestServer() *testServer {
	ts := &testServer{
		received: make(chan models.Envelope, 32),
		conns:    make(chan *websocket.Conn, 8),
	}
	upgrader := websocket.Upgrader{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ts.connCount, 1)
		ts.conns <- conn
		for {
			var env models.Envelope
			if readErr := conn.ReadJSON(&env); readErr != nil {
				return
			}
			ts.received <- env
		}
	}))
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *testServer) nextConn(t *testing.T) *websocket.Conn {
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a connection")
		return nil
	}
}

func (ts *testServer) nextEnvelope(t *testing.T) models.Envelope {
	select {
	case env := <-ts.received:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("server never received an envelope")
		return models.Envelope{}
	}
}

func TestTransport_SendWhileDisconnected(t *testing.T) {
	tr := New("ws://127.0.0.1:1/ws")
	assert.Equal(t, DISCONNECTED, tr.State())
	err := tr.Send(models.NewSubscribeEnvelope("job:1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTransport_ConnectAndSend(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	tr := New(ts.url())
	defer tr.Close()

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, CONNECTED, tr.State())
	ts.nextConn(t)

	require.NoError(t, tr.Send(models.NewSubscribeEnvelope("job:42")))
	env := ts.nextEnvelope(t)
	assert.Equal(t, models.ENVELOPE_SUBSCRIBE, env.Type)
	topic, topicErr := env.Topic()
	require.NoError(t, topicErr)
	assert.Equal(t, "job:42", topic)
}

func TestTransport_ConnectIsIdempotent(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	tr := New(ts.url())
	defer tr.Close()

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	ts.nextConn(t)

	//a round trip makes sure any second handshake would have landed by now
	require.NoError(t, tr.Send(models.NewSubscribeEnvelope("job:1")))
	ts.nextEnvelope(t)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.connCount))
}

func TestTransport_DeliversInboundEnvelopes(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	tr := New(ts.url())
	defer tr.Close()

	got := make(chan models.Envelope, 4)
	tr.OnEnvelope(func(env models.Envelope) {
		got <- env
	})

	require.NoError(t, tr.Connect(context.Background()))
	serverConn := ts.nextConn(t)

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte("this is not json")))
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"job_log_update","data":{"job_id":7,"log":{"id":1,"line":"pulling image","created_at":1700000000}}}`)))

	select {
	case env := <-got:
		require.Equal(t, models.ENVELOPE_JOB_LOG_UPDATE, env.Type)
		update, err := env.JobLogUpdate()
		require.NoError(t, err)
		assert.Equal(t, "7", update.JobId)
		assert.Equal(t, "pulling image", update.Log.Line)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope was never delivered")
	}
}

func TestTransport_ServerDropResetsState(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	tr := New(ts.url())
	defer tr.Close()

	dropped := make(chan error, 1)
	tr.OnDisconnect(func(err error) {
		dropped <- err
	})

	require.NoError(t, tr.Connect(context.Background()))
	serverConn := ts.nextConn(t)
	serverConn.Close()

	select {
	case err := <-dropped:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect was never reported")
	}
	assert.Equal(t, DISCONNECTED, tr.State())
	assert.ErrorIs(t, tr.Send(models.NewSubscribeEnvelope("job:1")), ErrNotConnected)
}

func TestTransport_ConnectFailure(t *testing.T) {
	ts := newTestServer()
	target := ts.url()
	ts.server.Close()

	tr := New(target)
	err := tr.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, DISCONNECTED, tr.State())
}

type fixedTopics []string

func (f fixedTopics) Topics() []string {
	return f
}

func TestSupervisor_ReplaysTopicsAfterDrop(t *testing.T) {
	ts := newTestServer()
	defer ts.server.Close()

	tr := New(ts.url())
	sup := NewSupervisor(tr, fixedTopics{"job:42"}, 100*time.Millisecond)
	sup.SetMinBackoff(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	first := ts.nextConn(t)
	env := ts.nextEnvelope(t)
	topic, _ := env.Topic()
	assert.Equal(t, models.ENVELOPE_SUBSCRIBE, env.Type)
	assert.Equal(t, "job:42", topic)

	first.Close()

	ts.nextConn(t)
	env = ts.nextEnvelope(t)
	topic, _ = env.Topic()
	assert.Equal(t, "job:42", topic)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ts.connCount))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
	assert.Equal(t, DISCONNECTED, tr.State())
}

func TestSupervisor_Backoff(t *testing.T) {
	sup := NewSupervisor(New("ws://unused"), nil, time.Second)
	assert.Equal(t, 1*time.Second, sup.nextBackoff(800*time.Millisecond))
	assert.Equal(t, 400*time.Millisecond, sup.nextBackoff(200*time.Millisecond))
}
