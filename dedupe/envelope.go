package dedupe

import (
	"bytes"
	"net/http"
	"time"
)

// ResponseEnvelope is a captured HTTP response: everything needed to answer
// a repeated request byte for byte without re-executing its handler.
type ResponseEnvelope struct {
	Status      int         `json:"status"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	CompletedAt time.Time   `json:"completedAt,omitzero"`
}

// Replay writes the captured response to w.
func (e *ResponseEnvelope) Replay(w http.ResponseWriter) error {
	h := w.Header()
	for k, vs := range e.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	_, err := w.Write(e.Body)
	return err
}

// Recorder is an http.ResponseWriter that captures the response instead of
// sending it, so the handler's output can be enveloped for replay.
type Recorder struct {
	status      int
	wroteHeader bool
	header      http.Header
	body        bytes.Buffer
}

var _ http.ResponseWriter = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{status: http.StatusOK, header: make(http.Header)}
}

func (r *Recorder) Header() http.Header { return r.header }

func (r *Recorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(p)
}

// WriteHeader records the status code. As with the net/http server, only
// the first call counts.
func (r *Recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
}

// Envelope snapshots the captured response. The snapshot is detached from
// the recorder, so later writes do not leak into an already-shared copy.
func (r *Recorder) Envelope() *ResponseEnvelope {
	return &ResponseEnvelope{
		Status: r.status,
		Header: r.header.Clone(),
		Body:   bytes.Clone(r.body.Bytes()),
	}
}
