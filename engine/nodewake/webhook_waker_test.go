package nodewake_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/nodewake"
)

func testLogFactory() logger.LogFactory {
	registry, err := logger.NewLogRegistry("")
	if err != nil {
		panic(err)
	}
	return logger.MakeLogrusLogFactoryStdOut(registry)
}

func TestWebhookWakerPostsNodeFields(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	node := models.NewNode("node-a", models.NewTime(time.Now()))
	node.ProviderRef = server.URL

	waker := nodewake.NewWebhookWaker(testLogFactory())
	require.NoError(t, waker.Wake(context.Background(), node))
	require.Equal(t, http.MethodPost, gotMethod)
}

func TestWebhookWakerRequiresProviderRef(t *testing.T) {
	node := models.NewNode("node-a", models.NewTime(time.Now()))
	waker := nodewake.NewWebhookWaker(testLogFactory())
	require.Error(t, waker.Wake(context.Background(), node))
}

func TestNoopWakerAlwaysSucceeds(t *testing.T) {
	node := models.NewNode("node-a", models.NewTime(time.Now()))
	require.NoError(t, nodewake.NoopWaker{}.Wake(context.Background(), node))
}
