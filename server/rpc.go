package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/clip-tender/capture"
	"github.com/onnwee/clip-tender/reconcile"
	"github.com/onnwee/clip-tender/telemetry"
)

// Request tags accepted by POST /rpc.
const (
	TagCreateRecord         = "CREATE_RECORD"
	TagGetRecords           = "GET_RECORDS"
	TagGetRecordsByStreamer = "GET_RECORDS_BY_STREAMER"
	TagUpdateMemo           = "UPDATE_MEMO"
	TagDeleteRecord         = "DELETE_RECORD"
	TagCancelPending        = "CANCEL_PENDING"
	TagMarkCompleted        = "MARK_COMPLETED"
	TagLinkVOD              = "LINK_VOD"
	TagGetClipURL           = "GET_CLIP_URL"
)

const maxRPCBodyBytes = 1 << 20

// Error codes carried in failed RPC responses.
const (
	CodeNotFound      = "not_found"
	CodeAlreadyLinked = "already_linked"
	CodeConflict      = "conflict"
	CodeTransient     = "transient"
	CodeInvalid       = "invalid"
	CodeBusy          = "busy"
	CodeInternal      = "internal"
)

// RPCRequest is the envelope of every RPC call. Fields beyond Type are read according to
// the tag; unrelated fields are ignored.
type RPCRequest struct {
	Type string `json:"type"`

	// CREATE_RECORD
	Record *capture.NewCapture `json:"record,omitempty"`

	// GET_RECORDS_BY_STREAMER, LINK_VOD
	StreamerID string `json:"streamerId,omitempty"`

	// UPDATE_MEMO, DELETE_RECORD, CANCEL_PENDING, MARK_COMPLETED, GET_CLIP_URL
	ID        string `json:"id,omitempty"`
	Memo      string `json:"memo,omitempty"`
	Completed *bool  `json:"completed,omitempty"`

	// LINK_VOD; without it the configured provider is asked for the VOD
	VOD *capture.VOD `json:"vod,omitempty"`
}

// RPCResponse wraps every RPC result.
type RPCResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// LinkResult is the data of a LINK_VOD response.
type LinkResult struct {
	StreamerID string `json:"streamerId"`
	Linked     int    `json:"linked"`
}

// ClipResult is the data of a GET_CLIP_URL response.
type ClipResult struct {
	URL    string `json:"url"`
	Linked bool   `json:"linked"`
}

// HandleRPC dispatches one tagged request. Failures use the same envelope with a code
// that tells the caller whether to retry.
func (h *Handlers) HandleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RPCRequest
	body := io.LimitReader(r.Body, maxRPCBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeRPC(w, nil, fmt.Errorf("%w: decode request: %v", capture.ErrInvalid, err))
		return
	}
	data, err := h.dispatch(r, req)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Debug("rpc failed",
			slog.String("type", req.Type), slog.Any("err", err))
	}
	writeRPC(w, data, err)
}

func (h *Handlers) dispatch(r *http.Request, req RPCRequest) (any, error) {
	ctx := r.Context()
	svc := h.deps.Service
	switch req.Type {
	case TagCreateRecord:
		if req.Record == nil {
			return nil, fmt.Errorf("%w: record required", capture.ErrInvalid)
		}
		return svc.Create(ctx, *req.Record)
	case TagGetRecords:
		return svc.List(ctx)
	case TagGetRecordsByStreamer:
		if strings.TrimSpace(req.StreamerID) == "" {
			return nil, fmt.Errorf("%w: streamerId required", capture.ErrInvalid)
		}
		return svc.ListByStreamer(ctx, req.StreamerID)
	case TagUpdateMemo:
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id required", capture.ErrInvalid)
		}
		return svc.UpdateMemo(ctx, req.ID, req.Memo)
	case TagDeleteRecord:
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id required", capture.ErrInvalid)
		}
		return nil, svc.Delete(ctx, req.ID)
	case TagCancelPending:
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id required", capture.ErrInvalid)
		}
		return nil, svc.CancelPending(ctx, req.ID)
	case TagMarkCompleted:
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id required", capture.ErrInvalid)
		}
		done := true
		if req.Completed != nil {
			done = *req.Completed
		}
		return svc.MarkCompleted(ctx, req.ID, done)
	case TagLinkVOD:
		return h.linkVOD(r, req)
	case TagGetClipURL:
		if req.ID == "" {
			return nil, fmt.Errorf("%w: id required", capture.ErrInvalid)
		}
		c, err := svc.Get(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return ClipResult{URL: capture.ClipURL(c), Linked: c.Linked()}, nil
	case "":
		return nil, fmt.Errorf("%w: type required", capture.ErrInvalid)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", capture.ErrInvalid, req.Type)
	}
}

func (h *Handlers) linkVOD(r *http.Request, req RPCRequest) (any, error) {
	streamer := capture.CanonicalStreamer(req.StreamerID)
	if req.VOD != nil && streamer == "" {
		streamer = capture.CanonicalStreamer(req.VOD.StreamerID)
	}
	if streamer == "" {
		return nil, fmt.Errorf("%w: streamerId required", capture.ErrInvalid)
	}
	var (
		n   int
		err error
	)
	switch {
	case req.VOD != nil:
		if req.VOD.ID == "" || req.VOD.StartedAt.IsZero() || req.VOD.DurationSeconds < 0 {
			return nil, fmt.Errorf("%w: vod requires vodId, startedAt and a non-negative duration", capture.ErrInvalid)
		}
		n, err = h.deps.Service.Reconcile(r.Context(), streamer, *req.VOD)
	case h.deps.Provider != nil:
		n, err = h.deps.Service.ReconcileFromProvider(r.Context(), h.deps.Provider, streamer)
	default:
		return nil, fmt.Errorf("%w: no vod supplied and no provider configured", capture.ErrInvalid)
	}
	if err != nil {
		return nil, err
	}
	return LinkResult{StreamerID: streamer, Linked: n}, nil
}

// errorCode maps the capture error taxonomy onto RPC codes and HTTP statuses.
func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, capture.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, capture.ErrAlreadyLinked):
		return CodeAlreadyLinked, http.StatusConflict
	case errors.Is(err, capture.ErrConflict):
		return CodeConflict, http.StatusConflict
	case errors.Is(err, reconcile.ErrInProgress):
		return CodeBusy, http.StatusConflict
	case errors.Is(err, capture.ErrInvalid):
		return CodeInvalid, http.StatusBadRequest
	case errors.Is(err, capture.ErrNotAvailable), capture.IsTransient(err):
		return CodeTransient, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// writeRPC always answers 200; the outcome lives in the envelope.
func writeRPC(w http.ResponseWriter, data any, err error) {
	if err != nil {
		code, _ := errorCode(err)
		writeJSON(w, http.StatusOK, RPCResponse{Success: false, Error: err.Error(), Code: code})
		return
	}
	writeJSON(w, http.StatusOK, RPCResponse{Success: true, Data: data})
}

// writeError is the REST counterpart of writeRPC.
func writeError(w http.ResponseWriter, err error) {
	code, status := errorCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// splitPath returns the first and second segments after prefix.
func splitPath(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", ""
	}
	first, second, _ := strings.Cut(rest, "/")
	return first, second
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
