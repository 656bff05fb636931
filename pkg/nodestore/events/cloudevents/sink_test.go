package cloudevents_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sdk "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/nodestore/pkg/nodestore"
	"github.com/tendant/nodestore/pkg/nodestore/events/cloudevents"
)

type fakeSender struct {
	mu     sync.Mutex
	events []sdk.Event
	result sdk.Result
}

func (f *fakeSender) Send(ctx context.Context, e sdk.Event) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.result
}

func testNode() *nodestore.Node {
	return &nodestore.Node{UUID: "node0001", Title: "Invoice", Mimetype: "application/pdf", Parent: nodestore.RootFolderUUID}
}

func TestSink_Events(t *testing.T) {
	sender := &fakeSender{}
	sink := cloudevents.New(sender, "urn:test")
	ctx := context.Background()

	require.NoError(t, sink.NodeCreated(ctx, testNode(), []string{"notify"}))
	require.NoError(t, sink.NodeUpdated(ctx, testNode(), nil))
	require.NoError(t, sink.NodeDeleted(ctx, testNode()))

	require.Len(t, sender.events, 3)
	types := []string{sender.events[0].Type(), sender.events[1].Type(), sender.events[2].Type()}
	assert.Equal(t, []string{cloudevents.TypeNodeCreated, cloudevents.TypeNodeUpdated, cloudevents.TypeNodeDeleted}, types)

	created := sender.events[0]
	assert.Equal(t, "urn:test", created.Source())
	assert.Equal(t, "node0001", created.Subject())
	assert.NotEmpty(t, created.ID())
	assert.NotEqual(t, created.ID(), sender.events[1].ID())
	require.NoError(t, created.Validate())

	var payload cloudevents.Payload
	require.NoError(t, created.DataAs(&payload))
	assert.Equal(t, "Invoice", payload.Node.Title)
	assert.Equal(t, []string{"notify"}, payload.Triggers)
}

func TestSink_DefaultSource(t *testing.T) {
	sender := &fakeSender{}
	sink := cloudevents.New(sender, "")
	require.NoError(t, sink.NodeDeleted(context.Background(), testNode()))
	assert.Equal(t, cloudevents.DefaultSource, sender.events[0].Source())
}

func TestSink_SendFailure(t *testing.T) {
	sink := cloudevents.New(&fakeSender{result: errors.New("connection refused")}, "")
	err := sink.NodeCreated(context.Background(), testNode(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewHTTP_DeliversEvent(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, err := cehttp.NewEventFromHTTPRequest(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- e.Type()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink, err := cloudevents.NewHTTP(server.URL, "urn:test")
	require.NoError(t, err)
	require.NoError(t, sink.NodeCreated(context.Background(), testNode(), nil))
	assert.Equal(t, cloudevents.TypeNodeCreated, <-received)
}

func TestNewHTTP_RejectedEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink, err := cloudevents.NewHTTP(server.URL, "urn:test")
	require.NoError(t, err)
	assert.Error(t, sink.NodeDeleted(context.Background(), testNode()))
}
