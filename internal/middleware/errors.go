package middleware

import (
	"encoding/json"
	"net/http"

	apierrors "tenderscope/internal/errors"
)

// Problem is the RFC 7807 body written by the middleware chain when it
// rejects a request before any handler runs.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Trace  string `json:"trace_id,omitempty"`
}

type problemKind struct {
	typ   string
	title string
}

// problemKinds covers the statuses middleware can produce. The types match
// the ones the error handler uses for the same conditions.
var problemKinds = map[int]problemKind{
	http.StatusBadRequest:            {"/errors/bad-request", "Bad Request"},
	http.StatusNotFound:              {apierrors.TypeNotFound, "Not Found"},
	http.StatusRequestEntityTooLarge: {apierrors.TypePayloadTooLarge, "Payload Too Large"},
	http.StatusUnsupportedMediaType:  {"/errors/unsupported-media-type", "Unsupported Media Type"},
	http.StatusTooManyRequests:       {apierrors.TypeRateLimit, "Too Many Requests"},
	http.StatusInternalServerError:   {apierrors.TypeInternal, "Internal Server Error"},
	http.StatusGatewayTimeout:        {apierrors.TypeTimeout, "Gateway Timeout"},
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}

// ProblemFromStatus creates a Problem from an HTTP status code
func ProblemFromStatus(status int, detail string, traceID string) Problem {
	kind, ok := problemKinds[status]
	if !ok {
		kind = problemKind{typ: "/errors/unknown", title: http.StatusText(status)}
	}
	return Problem{
		Type:   kind.typ,
		Title:  kind.title,
		Status: status,
		Detail: detail,
		Trace:  traceID,
	}
}
