package intercept

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
)

// DefaultBodyLimit bounds how much of a response body a Recorder buffers.
const DefaultBodyLimit = 1 << 20

// Recorder is a ResponseWriter that forwards everything to the client while
// keeping the status code and up to limit bytes of the body.
type Recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
	limit       int
	buf         bytes.Buffer
	truncated   bool
}

// NewRecorder wraps w. A non-positive limit uses DefaultBodyLimit.
func NewRecorder(w http.ResponseWriter, limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return &Recorder{ResponseWriter: w, limit: limit}
}

// WriteHeader records the status and forwards it.
func (rec *Recorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

// Write forwards b and buffers it while under the limit.
func (rec *Recorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}

	if !rec.truncated {
		if rec.buf.Len()+len(b) > rec.limit {
			rec.truncated = true
			rec.buf.Reset()
		} else {
			rec.buf.Write(b)
		}
	}

	return rec.ResponseWriter.Write(b)
}

// Flush implements http.Flusher when the underlying writer does.
func (rec *Recorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *Recorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Status returns the recorded status, 200 if the handler wrote a body
// without an explicit status and 0 if it wrote nothing.
func (rec *Recorder) Status() int {
	return rec.status
}

// Outcome returns the structured result of the wrapped handler.
func (rec *Recorder) Outcome() Outcome {
	status := rec.status
	if !rec.wroteHeader {
		// net/http sends 200 when a handler returns without writing.
		status = http.StatusOK
	}

	o := Outcome{
		Status:      status,
		Empty:       !rec.wroteHeader,
		ContentType: rec.Header().Get("Content-Type"),
		Truncated:   rec.truncated,
	}
	if !rec.truncated {
		o.Body = bytes.Clone(rec.buf.Bytes())
	}
	o.decode()

	return o
}

// Outcome is the (status, success, body) result of a handler.
type Outcome struct {
	// Status is the HTTP status code sent to the client.
	Status int

	// ContentType is the Content-Type response header.
	ContentType string

	// Body is the buffered response body; nil when Truncated.
	Body []byte

	// Truncated is set when the body exceeded the recorder limit.
	Truncated bool

	// Empty is set when the handler returned without writing a status or
	// a body, e.g. a proxy giving up on a cancelled request.
	Empty bool

	// JSON reports whether the body is a well-formed JSON document.
	JSON bool

	// Malformed is set when the body claims to be JSON but does not parse.
	Malformed bool

	// Flag is the top-level "success" field of a JSON object body, nil
	// when absent.
	Flag *bool
}

func (o *Outcome) decode() {
	if o.Truncated || len(bytes.TrimSpace(o.Body)) == 0 {
		return
	}

	var probe struct {
		Success *bool `json:"success"`
	}
	switch err := json.Unmarshal(o.Body, &probe); {
	case err == nil:
		o.JSON = true
		o.Flag = probe.Success
	case isJSONContentType(o.ContentType):
		// A JSON array or scalar is still valid JSON.
		if json.Valid(o.Body) {
			o.JSON = true
			return
		}
		o.Malformed = true
	}
}

// Succeeded reports a 2xx status without an explicit "success": false.
func (o Outcome) Succeeded() bool {
	if o.Status < 200 || o.Status > 299 {
		return false
	}
	return o.Flag == nil || *o.Flag
}

// Cacheable reports whether the response may be stored by a read-through
// cache: an explicit canonical 200, complete and well-formed body, no
// failure flag.
func (o Outcome) Cacheable() bool {
	if o.Empty || o.Status != http.StatusOK || o.Truncated || o.Malformed {
		return false
	}
	return o.Flag == nil || *o.Flag
}

// Failed reports an explicit "success": false in the body.
func (o Outcome) Failed() bool {
	return o.Flag != nil && !*o.Flag
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}
