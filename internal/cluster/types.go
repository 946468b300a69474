package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BarrierRequest asks the controller to hold the caller until NumWorkers
// members of Group have arrived.
type BarrierRequest struct {
	Group      string `json:"group,omitempty"`
	NumWorkers uint32 `json:"num_workers"`
}

// BarrierResponse is the empty acknowledgement of a released barrier.
// Generation is informational.
type BarrierResponse struct {
	Generation uint64 `json:"generation"`
}

// BroadcastRequest joins the caller's next broadcast round. Value is only
// read when Rank == Root.
type BroadcastRequest struct {
	Group      string `json:"group,omitempty"`
	Value      []byte `json:"value,omitempty"`
	Rank       uint32 `json:"rank"`
	Root       uint32 `json:"root"`
	NumWorkers uint32 `json:"num_workers"`
}

// BroadcastResponse carries the root's value.
type BroadcastResponse struct {
	Value []byte `json:"value,omitempty"`
}

// ExchangeRequest posts the caller's record into session Session.
type ExchangeRequest struct {
	Group      string `json:"group,omitempty"`
	Value      []byte `json:"value,omitempty"`
	Session    uint64 `json:"session"`
	Rank       uint32 `json:"rank"`
	NumWorkers uint32 `json:"num_workers"`
}

// ExchangeResponse carries every rank's record, indexed by rank.
type ExchangeResponse struct {
	Values [][]byte `json:"values"`
}

// Peer returns the record posted by rank, or nil if rank is out of range.
func (r *ExchangeResponse) Peer(rank uint32) []byte {
	if r == nil || int(rank) >= len(r.Values) {
		return nil
	}
	return r.Values[rank]
}

// GroupStats reports the bookkeeping sizes of one group.
type GroupStats struct {
	Group      string `json:"group"`
	Generation uint64 `json:"generation"`
	Arrived    uint32 `json:"arrived"`
	Epochs     int    `json:"epochs"`
	Slots      int    `json:"slots"`
	Sessions   int    `json:"sessions"`
	Ranks      int    `json:"ranks"`
}

// StallInfo describes a rendezvous whose callers have waited past the stall threshold.
type StallInfo struct {
	Group      string  `json:"group"`
	Kind       string  `json:"kind"`
	Key        uint64  `json:"key"`
	Waiting    int     `json:"waiting"`
	AgeSeconds float64 `json:"age_seconds"`
}

// StatsResponse is returned by the controller's GET /stats endpoint.
type StatsResponse struct {
	Groups   []GroupStats `json:"groups"`
	Stalled  []StallInfo  `json:"stalled"`
	InFlight int64        `json:"in_flight"`
	Served   uint64       `json:"served"`
}

// ErrorResponse is the JSON body of a failed HTTP call.
type ErrorResponse struct {
	Error string `json:"error"`
}

var httpClient = &http.Client{}

// PostJSON posts body to url and decodes the reply into out. Rendezvous calls
// block until the group completes, so the deadline comes from ctx only.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the reply into out.
func GetJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(url string, resp *http.Response) error {
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("http %s: %d: %s", url, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("http %s: %d", url, resp.StatusCode)
}
