// ABOUTME: In-process fake of the cloud agent API for tests
// ABOUTME: Verifies signatures, records calls and lets tests script failures per action

// Package cloudagenttest provides a fake cloud agent service for tests of
// code that talks to it through cloudagent.Client.
package cloudagenttest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/2389/solace/internal/cloudagent"
)

// Call is one request received by a Vendor.
type Call struct {
	Action string
	Query  map[string]string
	Body   map[string]any
}

// Vendor is an httptest server speaking the cloud agent protocol.
type Vendor struct {
	Server *httptest.Server

	appID  string
	secret string

	mu        sync.Mutex
	calls     []Call
	codes     map[string]int
	statuses  map[string][]int
	instances int
}

// NewVendor starts a fake that accepts requests signed with appID and secret.
func NewVendor(appID, secret string) *Vendor {
	f := &Vendor{
		appID:    appID,
		secret:   secret,
		codes:    make(map[string]int),
		statuses: make(map[string][]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// URL is the base URL to configure clients with.
func (f *Vendor) URL() string {
	return f.Server.URL + "/"
}

// Close stops the server.
func (f *Vendor) Close() {
	f.Server.Close()
}

// FailWithCode makes every call to action answer with a non-zero Code.
func (f *Vendor) FailWithCode(action string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[action] = code
}

// QueueStatus makes the next calls to action answer with the given HTTP statuses, in order.
func (f *Vendor) QueueStatus(action string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[action] = append(f.statuses[action], statuses...)
}

// Calls returns a copy of the calls received so far.
func (f *Vendor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the calls received for action.
func (f *Vendor) CallsFor(action string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (f *Vendor) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	call := Call{Action: q.Get("Action"), Query: map[string]string{}}
	for k := range q {
		call.Query[k] = q.Get(k)
	}
	if err := json.NewDecoder(r.Body).Decode(&call.Body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "malformed body: "+err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	var status int
	if queued := f.statuses[call.Action]; len(queued) > 0 {
		status = queued[0]
		f.statuses[call.Action] = queued[1:]
	}
	code := f.codes[call.Action]
	if call.Action == cloudagent.ActionCreateAgentInstance && code == 0 {
		f.instances++
	}
	n := f.instances
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	ts, err := strconv.ParseInt(q.Get("Timestamp"), 10, 64)
	if err != nil {
		writeEnvelope(w, cloudagent.Response{Code: 401, Message: "bad timestamp"})
		return
	}
	if q.Get("AppId") != f.appID || q.Get("Signature") != cloudagent.Sign(f.appID, q.Get("SignatureNonce"), f.secret, ts) {
		writeEnvelope(w, cloudagent.Response{Code: 401, Message: "signature mismatch"})
		return
	}

	if code != 0 {
		writeEnvelope(w, cloudagent.Response{Code: code, Message: call.Action + " rejected", RequestID: "req-fail"})
		return
	}

	resp := cloudagent.Response{Code: 0, Message: "success", RequestID: fmt.Sprintf("req-%d", len(f.Calls()))}
	if call.Action == cloudagent.ActionCreateAgentInstance {
		data, err := json.Marshal(map[string]string{"AgentInstanceId": fmt.Sprintf("inst-%d", n)})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Data = data
	}
	writeEnvelope(w, resp)
}

func writeEnvelope(w http.ResponseWriter, resp cloudagent.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
