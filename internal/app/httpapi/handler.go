// Package httpapi exposes the coordinator over REST. Principals are carried
// in the X-Principal header; authentication itself is a deployment concern
// handled in front of this service.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app"
	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/metrics"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/oracle"
)

const principalHeader = "X-Principal"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the coordinator REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/requests", h.requests)
	mux.HandleFunc("/requests/", h.requestResources)
	mux.HandleFunc("/owners/", h.ownerRequests)
	mux.HandleFunc("/oracle/callback", h.oracleCallback)
	mux.HandleFunc("/admin/roles", h.adminRoles)
	mux.HandleFunc("/admin/pause", h.adminPause)
	mux.HandleFunc("/admin/resume", h.adminResume)
	mux.HandleFunc("/admin/fees", h.adminFees)
	mux.HandleFunc("/admin/drain", h.adminDrain)
	mux.HandleFunc("/admin/ownership", h.adminOwnership)
	mux.HandleFunc("/events", h.events)
	mux.HandleFunc("/healthz", h.healthz)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func principal(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(principalHeader))
}

func (h *handler) requests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			ItemCount     int    `json:"item_count"`
			MaxDistance   string `json:"max_distance"`
			CapacityLimit string `json:"capacity_limit"`
			Deposit       int64  `json:"deposit"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		req, err := h.app.Requests.Create(r.Context(), principal(r), payload.ItemCount,
			compute.Handle(payload.MaxDistance), compute.Handle(payload.CapacityLimit), payload.Deposit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) requestResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/requests"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	requestID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request id %q", parts[0]))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		req, err := h.app.Requests.Get(r.Context(), requestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}

	switch parts[1] {
	case "items":
		h.requestItems(w, r, requestID)
	case "result":
		h.requestResult(w, r, requestID)
	case "eligibility":
		h.requestEligibility(w, r, requestID)
	case "payouts":
		h.requestPayouts(w, r, requestID)
	case "process":
		h.requestProcess(w, r, requestID)
	case "fail":
		h.requestFail(w, r, requestID)
	case "refund":
		h.requestRefund(w, r, requestID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) requestItems(w http.ResponseWriter, r *http.Request, requestID uint64) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Index  int    `json:"index"`
			X      string `json:"x"`
			Y      string `json:"y"`
			Weight string `json:"weight"`
			Price  string `json:"price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err := h.app.Requests.AddItem(r.Context(), principal(r), requestID, payload.Index,
			compute.Handle(payload.X), compute.Handle(payload.Y),
			compute.Handle(payload.Weight), compute.Handle(payload.Price))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"request_id": requestID, "index": payload.Index})

	case http.MethodGet:
		items, err := h.app.Requests.Items(r.Context(), requestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) requestResult(w http.ResponseWriter, r *http.Request, requestID uint64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := h.app.Requests.Result(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) requestEligibility(w http.ResponseWriter, r *http.Request, requestID uint64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	elig, err := h.app.Settlement.CheckEligibility(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elig)
}

func (h *handler) requestPayouts(w http.ResponseWriter, r *http.Request, requestID uint64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payouts, err := h.app.Settlement.Payouts(r.Context(), requestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payouts)
}

func (h *handler) requestProcess(w http.ResponseWriter, r *http.Request, requestID uint64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := h.app.Lifecycle.Process(r.Context(), principal(r), requestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *handler) requestFail(w http.ResponseWriter, r *http.Request, requestID uint64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Lifecycle.MarkFailed(r.Context(), principal(r), requestID, payload.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "status": "failed"})
}

func (h *handler) requestRefund(w http.ResponseWriter, r *http.Request, requestID uint64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payout, err := h.app.Settlement.RequestRefund(r.Context(), principal(r), requestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (h *handler) ownerRequests(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/owners"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "requests" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reqs, err := h.app.Requests.ListByOwner(r.Context(), parts[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// oracleCallback receives asynchronous decryption deliveries. A payload with
// an invalid proof is acknowledged with 200 and ignored; retrying it would
// never help the caller.
func (h *handler) oracleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload oracle.CallbackPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Lifecycle.HandleCallback(r.Context(), payload); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *handler) adminRoles(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Principal string `json:"principal"`
		Role      string `json:"role"`
	}

	switch r.Method {
	case http.MethodPost:
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Admin.GrantRole(r.Context(), principal(r), payload.Principal, access.Role(payload.Role)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"principal": payload.Principal, "role": payload.Role})

	case http.MethodDelete:
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Admin.RevokeRole(r.Context(), principal(r), payload.Principal, access.Role(payload.Role)); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"principal": payload.Principal, "role": payload.Role})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) adminPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.app.Admin.Pause(r.Context(), principal(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (h *handler) adminResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.app.Admin.Resume(r.Context(), principal(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (h *handler) adminFees(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pool, err := h.app.Settlement.FeePool(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pool)

	case http.MethodPost:
		var payload struct {
			To string `json:"to"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		payout, err := h.app.Settlement.WithdrawFees(r.Context(), principal(r), payload.To)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payout)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) adminDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		To string `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := h.app.Admin.EmergencyDrain(r.Context(), principal(r), payload.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drained": total, "to": payload.To})
}

func (h *handler) adminOwnership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		NewOwner string `json:"new_owner"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Admin.TransferOwnership(r.Context(), principal(r), payload.NewOwner); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": payload.NewOwner})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a coded service error to its HTTP status and carries
// the code through to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatusOf(err))
	body := map[string]string{"error": err.Error()}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
