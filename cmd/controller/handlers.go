package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/dreamware/flashsync/internal/cluster"
	"github.com/dreamware/flashsync/internal/controller"
	"github.com/dreamware/flashsync/internal/rpc"
)

// statusClientClosedRequest is the nginx convention for a caller that went away.
const statusClientClosedRequest = 499

// maxBodyBytes caps a single request body, value included.
const maxBodyBytes = 16 << 20

type server struct {
	ctrl     *controller.Controller
	watchdog *controller.Watchdog
	logger   *zap.Logger
}

func newServer(ctrl *controller.Controller, watchdog *controller.Watchdog, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{ctrl: ctrl, watchdog: watchdog, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/barrier", s.handleBarrier)
	mux.HandleFunc("/broadcast", s.handleBroadcast)
	mux.HandleFunc("/exchange", s.handleExchange)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *server) handleBarrier(w http.ResponseWriter, r *http.Request) {
	var req cluster.BarrierRequest
	if !decodePost(w, r, &req) {
		return
	}
	resp, err := s.ctrl.Barrier(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req cluster.BroadcastRequest
	if !decodePost(w, r, &req) {
		return
	}
	resp, err := s.ctrl.Broadcast(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req cluster.ExchangeRequest
	if !decodePost(w, r, &req) {
		return
	}
	resp, err := s.ctrl.Exchange(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := cluster.StatsResponse{
		Groups:   []cluster.GroupStats{},
		Stalled:  []cluster.StallInfo{},
		InFlight: s.ctrl.InFlight(),
		Served:   s.ctrl.Served(),
	}
	for _, snap := range s.ctrl.Registry().Snapshots() {
		out.Groups = append(out.Groups, cluster.GroupStats{
			Group:      snap.Group,
			Generation: snap.Generation,
			Arrived:    snap.Arrived,
			Epochs:     snap.Epochs,
			Slots:      snap.Slots,
			Sessions:   snap.Sessions,
			Ranks:      snap.Ranks,
		})
	}
	if s.watchdog != nil {
		for _, st := range s.watchdog.Stalled() {
			out.Stalled = append(out.Stalled, cluster.StallInfo{
				Group:      st.Group,
				Kind:       string(st.Kind),
				Key:        st.Key,
				Waiting:    st.Waiting,
				AgeSeconds: st.Age.Seconds(),
			})
		}
	}
	writeJSON(w, out)
}

// decodePost reads a JSON body into v, answering the request itself on failure.
func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeStatus(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeStatus(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeStatus(w, httpStatus(err), err.Error())
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: msg})
}

// httpStatus maps a controller error onto an HTTP status code.
func httpStatus(err error) int {
	switch rpc.Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
