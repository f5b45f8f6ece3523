package ratelimit

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/marketgate/pkg/clientip"
)

// maxKeyBody bounds how much of a request body ByClientAndField reads.
const maxKeyBody = 64 << 10

// ByClient keys requests by client identity alone.
func ByClient(r *http.Request) string {
	return clientip.Identify(r)
}

// ByClientAndField keys requests by client identity plus a field of the
// request body (JSON object or form), lower-cased and trimmed. The body is
// restored for the next handler. A missing field keys by client alone.
func ByClientAndField(field string) KeyFunc {
	return func(r *http.Request) string {
		client := clientip.Identify(r)
		v := strings.ToLower(strings.TrimSpace(bodyField(r, field)))
		if v == "" {
			return client
		}
		return client + ":" + v
	}
}

func bodyField(r *http.Request, field string) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	orig := r.Body
	data, err := io.ReadAll(io.LimitReader(orig, maxKeyBody))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(data), orig), orig}
	if err != nil || len(data) == 0 {
		return ""
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return ""
		}
		return values.Get(field)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(obj[field], &s); err != nil {
		return ""
	}
	return s
}

type readCloser struct {
	io.Reader
	io.Closer
}
