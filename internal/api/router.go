package api

import "net/http"

// NewRouter wires every endpoint onto a ServeMux using method-qualified
// patterns.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/decisions", h.CreateDecision)
	mux.HandleFunc("GET /v1/decisions/inbox", h.Inbox)
	mux.HandleFunc("GET /v1/decisions/history", h.History)
	mux.HandleFunc("GET /v1/decisions/{id}", h.GetDecision)
	mux.HandleFunc("PATCH /v1/decisions/{id}/decide", h.Decide)
	mux.HandleFunc("POST /v1/decisions/{id}/request-info", h.RequestInfo)
	mux.HandleFunc("POST /v1/decisions/{id}/delegate", h.Delegate)
	mux.HandleFunc("POST /v1/decisions/{id}/resubmit", h.Resubmit)
	mux.HandleFunc("POST /v1/decisions/{id}/withdraw", h.Withdraw)
	mux.HandleFunc("POST /v1/decisions/{id}/assist-draft", h.AssistDraft)
	mux.HandleFunc("POST /v1/opportunities/{id}/approvals", h.OpportunityApproval)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", h.Metrics.HTTPHandler())

	return mux
}
