package nodewake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
)

// WebhookWaker POSTs a node's wake fields to its provider_ref URL, retrying transient
// failures. It carries no opinion about what the far end does with the request: per spec.md
// §1 that logic belongs entirely to the deployment's chosen provider.
type WebhookWaker struct {
	client *retryablehttp.Client
	log    logger.Log
}

func NewWebhookWaker(logFactory logger.LogFactory) *WebhookWaker {
	log := logFactory("WebhookWaker")
	client := retryablehttp.NewClient()
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.RetryMax = 5
	client.Logger = newLeveledLogger(log)
	return &WebhookWaker{client: client, log: log}
}

type webhookRequest struct {
	Node        string `json:"node"`
	WakeMethod  string `json:"wake_method"`
	MAC         string `json:"mac"`
	ProviderRef string `json:"provider_ref"`
	Script      string `json:"script"`
}

// Wake POSTs node's wake fields as JSON to node.ProviderRef, which is expected to be a URL.
func (w *WebhookWaker) Wake(ctx context.Context, node *models.Node) error {
	if node.ProviderRef == "" {
		return fmt.Errorf("error node %q has no provider_ref to wake against", node.Name)
	}
	body, err := json.Marshal(webhookRequest{
		Node:        node.Name,
		WakeMethod:  node.WakeMethod,
		MAC:         node.MAC,
		ProviderRef: node.ProviderRef,
		Script:      node.Script,
	})
	if err != nil {
		return fmt.Errorf("error marshalling wake request for node %q: %w", node.Name, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, node.ProviderRef, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error building wake request for node %q: %w", node.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("error waking node %q: %w", node.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("error waking node %q: provider returned status %d", node.Name, resp.StatusCode)
	}
	w.log.WithField("node", node.Name).Infof("sent wake request")
	return nil
}
