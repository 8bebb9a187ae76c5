package alert

import (
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
)

// maxPayloadBytes bounds a single webhook body.
const maxPayloadBytes = 1 << 20

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Received int    `json:"received"`
	Firing   int    `json:"firing"`
	Groups   int    `json:"groups"`
	ThreadID string `json:"thread_id"`
}

// Handler receives AlertManager webhook payloads and feeds them to the Aggregator.
type Handler struct {
	aggregator *Aggregator
	log        logr.Logger
}

// NewHandler creates a new Handler.
func NewHandler(aggregator *Aggregator, log logr.Logger) *Handler {
	return &Handler{
		aggregator: aggregator,
		log:        log,
	}
}

// ServeWebhook handles POST /api/v1/alerts/webhook. Resolved alerts are
// skipped; firing ones are ingested and investigated later on the alert
// thread, so the response is always 202 on success.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	var payload AlertManagerPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&payload); err != nil {
		h.log.Error(err, "failed to decode AlertManager payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	firing := 0
	for _, item := range payload.Alerts {
		if item.Status != "firing" {
			h.log.V(1).Info("skipping non-firing alert", "status", item.Status)
			continue
		}

		if err := h.aggregator.Ingest(item); err != nil {
			h.log.Error(err, "failed to ingest alert",
				"alertname", item.Labels["alertname"],
				"namespace", item.Labels["namespace"],
				"pod", item.Labels["pod"],
			)
			http.Error(w, "failed to ingest alert", http.StatusInternalServerError)
			return
		}
		firing++
	}

	h.log.Info("webhook received",
		"receiver", payload.Receiver,
		"total", len(payload.Alerts),
		"firing", firing,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(WebhookResponse{
		Received: len(payload.Alerts),
		Firing:   firing,
		Groups:   h.aggregator.GroupCount(),
		ThreadID: h.aggregator.ThreadID(),
	})
}
