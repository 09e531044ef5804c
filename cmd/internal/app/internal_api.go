package app

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"herald/cmd/internal/notify"
	v1 "herald/shared/contracts/notify/v1"
)

const internalMaxBodyBytes = 256 << 10 // 256 KiB

// InternalAPI is the producer-facing HTTP surface for platform services that
// do not publish through Redis. It is guarded by a shared secret and must
// never be exposed publicly.
type InternalAPI struct {
	log   Logger
	d     *notify.Dispatcher
	prefs *notify.PreferenceFilter
	token string
}

// NewInternalAPI constructs the internal producer API. An empty token
// disables it entirely. prefs may be nil; the preferences endpoint then
// returns 404.
func NewInternalAPI(log Logger, d *notify.Dispatcher, prefs *notify.PreferenceFilter, token string) *InternalAPI {
	return &InternalAPI{log: log, d: d, prefs: prefs, token: strings.TrimSpace(token)}
}

// Enabled reports whether the API is configured for serving.
func (api *InternalAPI) Enabled() bool {
	return api != nil && api.token != "" && api.d != nil
}

// Register wires the internal routes onto the provided mux.
func (api *InternalAPI) Register(mux *http.ServeMux) {
	if !api.Enabled() || mux == nil {
		return
	}
	mux.HandleFunc("/internal/v1/notify", api.guarded(api.handleNotify))
	mux.HandleFunc("/internal/v1/broadcast", api.guarded(api.handleBroadcast))
	mux.HandleFunc("/internal/v1/history", api.guarded(api.handleHistory))
	if api.prefs != nil {
		mux.HandleFunc("/internal/v1/preferences", api.guarded(api.handlePreferences))
	}
}

func (api *InternalAPI) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(api.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid internal token")
			return
		}
		next(w, r)
	}
}

type notifyRequest struct {
	Wallet string          `json:"wallet"`
	Kind   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

type broadcastRequest struct {
	Channel string          `json:"channel"`
	Kind    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

type deliveryResponse struct {
	Delivered int `json:"delivered"`
}

func (api *InternalAPI) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req notifyRequest
	if err := decodeJSON(w, r, internalMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Wallet) == "" || strings.TrimSpace(req.Kind) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "wallet and type are required")
		return
	}

	n := v1.Notification{Kind: req.Kind, Data: req.Data}
	delivered := api.d.NotifyWallet(r.Context(), req.Wallet, n)

	api.log.Info("internal.notify", "wallet", req.Wallet, "kind", req.Kind, "delivered", delivered)
	writeJSON(w, http.StatusOK, deliveryResponse{Delivered: delivered})
}

func (api *InternalAPI) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req broadcastRequest
	if err := decodeJSON(w, r, internalMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Kind) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "type is required")
		return
	}

	n := v1.Notification{Kind: req.Kind, Data: req.Data}

	var delivered int
	switch {
	case req.Channel == "" || req.Channel == "*":
		delivered = api.d.BroadcastToAll(r.Context(), n)
	case notify.ValidChannel(req.Channel) && !strings.HasPrefix(req.Channel, "personal:"):
		delivered = api.d.BroadcastToChannel(r.Context(), req.Channel, n)
	default:
		// Personal channels go through /internal/v1/notify so history and the
		// unread counter stay consistent.
		writeError(w, http.StatusBadRequest, "invalid_channel", "channel must be a fixed broadcast channel or *")
		return
	}

	api.log.Info("internal.broadcast", "channel", req.Channel, "kind", req.Kind, "delivered", delivered)
	writeJSON(w, http.StatusOK, deliveryResponse{Delivered: delivered})
}

type historyResponse struct {
	Items  []v1.Notification `json:"items"`
	Unread int64             `json:"unread"`
	Total  int64             `json:"total"`
}

func (api *InternalAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "wallet is required")
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)

	page, err := api.d.Recent(r.Context(), wallet, offset, limit)
	if err != nil {
		api.log.Error("internal.history.fail", "wallet", wallet, "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "history store unavailable")
		return
	}

	resp := historyResponse{Items: page.Items, Unread: page.Unread, Total: page.Total}
	if resp.Items == nil {
		resp.Items = []v1.Notification{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type preferenceRequest struct {
	Wallet string `json:"wallet"`
	Kind   string `json:"type"`
	Muted  bool   `json:"muted"`
}

func (api *InternalAPI) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req preferenceRequest
	if err := decodeJSON(w, r, internalMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Wallet) == "" || strings.TrimSpace(req.Kind) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "wallet and type are required")
		return
	}

	if req.Muted {
		api.prefs.Mute(req.Wallet, req.Kind)
	} else {
		api.prefs.Unmute(req.Wallet, req.Kind)
	}

	api.log.Info("internal.preferences", "wallet", req.Wallet, "kind", req.Kind, "muted", req.Muted)
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// ---- JSON plumbing ----

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
