package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/keyward/keyward/internal/audit"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/keycrypto"
	"github.com/keyward/keyward/internal/keyring"
	"github.com/keyward/keyward/internal/keystore"
	"github.com/keyward/keyward/internal/middleware"
)

// Keys and EventHub are set from main.go during init.
var (
	Keys     *keyring.Engine
	EventHub *events.Hub
)

// engineFor attributes the request's actor to subsequent audit entries.
func engineFor(r *http.Request) *keyring.Engine {
	return Keys.ForActor(middleware.GetActor(r))
}

// ListKeys handles GET /api/v1/keys. With ?keys=1 the response includes
// the PEM material per id instead of bare id lists.
func ListKeys(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("keys") == "" {
		partitions, err := Keys.Partitions()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, partitions)
		return
	}

	all, err := Keys.Store().ListAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string]map[string]string, len(all))
	for state, recs := range all {
		keys := make(map[string]string, len(recs))
		for _, rec := range recs {
			keys[rec.MinionID] = string(rec.KeyPEM)
		}
		out[state.Display()] = keys
	}
	writeJSON(w, http.StatusOK, out)
}

// ListKeysByState handles GET /api/v1/keys/{state}.
func ListKeysByState(w http.ResponseWriter, r *http.Request) {
	state, err := keystore.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := Keys.Store().ListState(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.MinionID
	}
	writeJSON(w, http.StatusOK, map[string][]string{state.Display(): ids})
}

// GetFingerprints handles GET /api/v1/keys/fingerprints?match=...
func GetFingerprints(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("match")
	fps, err := Keys.Fingerprints(pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fps)
}

type keyOpRequest struct {
	Match string `json:"match"`
	Op    string `json:"op"`
	// IncludeRejected widens accept to rejected keys; IncludeAccepted
	// widens reject to accepted keys. IncludeAll is the preview's
	// op-neutral form of the same flag.
	IncludeRejected bool `json:"include_rejected"`
	IncludeAccepted bool `json:"include_accepted"`
	IncludeAll      bool `json:"include_all"`
	AssumeYes       bool `json:"assume_yes"`
}

func decodeOpRequest(r *http.Request) (keyOpRequest, error) {
	var req keyOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

// confirmed applies the confirmation gate for destructive requests: a
// request without assume_yes that would affect more than one id is
// answered with 409 and the preview, and the caller re-submits.
func confirmed(w http.ResponseWriter, req keyOpRequest, pattern string, op keyring.Op, includeAll bool) bool {
	if req.AssumeYes || Keys.AssumeYes() {
		return true
	}
	p, err := Keys.Preview(pattern, op, includeAll)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if p.Total > 1 {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"detail":  "Confirmation required; re-submit with assume_yes",
			"preview": p,
		})
		return false
	}
	return true
}

// PreviewKeys handles POST /api/v1/keys/preview.
func PreviewKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	p, err := Keys.Preview(req.Match, keyring.Op(req.Op), req.IncludeAll)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AcceptKeys handles POST /api/v1/keys/accept. A glob touching more
// than one id goes through the confirmation gate like the other
// trust-changing operations.
func AcceptKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !confirmed(w, req, req.Match, keyring.OpAccept, req.IncludeRejected) {
		return
	}
	res, err := engineFor(r).Accept(r.Context(), req.Match, req.IncludeRejected)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RejectKeys handles POST /api/v1/keys/reject. Rejection without
// assume_yes goes through the confirmation gate: it revokes trust.
func RejectKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !confirmed(w, req, req.Match, keyring.OpReject, req.IncludeAccepted) {
		return
	}
	res, err := engineFor(r).Reject(r.Context(), req.Match, req.IncludeAccepted)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteKeys handles POST /api/v1/keys/delete.
func DeleteKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !confirmed(w, req, req.Match, keyring.OpDelete, false) {
		return
	}
	res, err := engineFor(r).Delete(r.Context(), req.Match)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AcceptAllKeys handles POST /api/v1/keys/accept-all.
func AcceptAllKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !confirmed(w, req, "*", keyring.OpAccept, false) {
		return
	}
	res, err := engineFor(r).AcceptAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RejectAllKeys handles POST /api/v1/keys/reject-all.
func RejectAllKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !confirmed(w, req, "*", keyring.OpReject, false) {
		return
	}
	res, err := engineFor(r).RejectAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteAllKeys handles POST /api/v1/keys/delete-all.
func DeleteAllKeys(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOpRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !confirmed(w, req, "*", keyring.OpDelete, false) {
		return
	}
	res, err := engineFor(r).DeleteAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type generateRequest struct {
	ID   string `json:"id"`
	Bits int    `json:"bits"`
	Dir  string `json:"dir"`
}

// GenerateKeys handles POST /api/v1/keys/generate.
func GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Bits == 0 {
		req.Bits = config.Cfg.DefaultKeyBits
	}
	if req.Dir == "" {
		req.Dir = config.Cfg.GenDir
	}
	privPath, pubPath, err := engineFor(r).Generate(r.Context(), req.Dir, req.ID, req.Bits)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, keystore.ErrInvalidID) || errors.Is(err, keycrypto.ErrKeyExists) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"private_key": privPath,
		"public_key":  pubPath,
	})
}

type signRequest struct {
	AutoCreate bool `json:"auto_create"`
}

// SignMasterKey handles POST /api/v1/keys/sign: it writes the detached
// signature over the master public key.
func SignMasterKey(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	sigPath, err := keycrypto.SignMasterKey(config.Cfg.PKIDir, config.Cfg.DefaultKeyBits, req.AutoCreate)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, keycrypto.ErrMissingSigningKey) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	if EventHub != nil {
		EventHub.Publish("", events.TypeSignatureCreated, sigPath)
	}
	if a := audit.Get(); a != nil {
		_ = a.Log(audit.Entry{
			EventType: audit.EventSignatureCreated,
			Actor:     middleware.GetActor(r),
			Details:   sigPath,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sigPath})
}

type submitRequest struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// SubmitKey handles POST /api/v1/minion/keys: the agent-facing
// submission path. It never changes an existing trust decision.
func SubmitKey(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	status, err := Keys.ForActor("minion").Submit(r.Context(), req.ID, []byte(req.Key))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, keystore.ErrInvalidID) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
