package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/workerbridge/pkg/dispatcher"
	"github.com/morezero/workerbridge/pkg/outcome"
)

// Request headers read by the front end.
const (
	HeaderAPIKey      = "X-Api-Key"
	HeaderApplication = "Application"
)

// MaxBodyBytes bounds the size of a request body.
const MaxBodyBytes = 10 << 20

// InvalidBodyMessage is returned when a POST body is not a JSON document.
const InvalidBodyMessage = "Request body must be a JSON document."

// Handler returns the HTTP handler: one endpoint per service plus /health, /ready and the home page.
func (s *Server) Handler() http.Handler {
	return newMux(s.dispatchers, s.health, s.cfg.HealthCheckTimeout)
}

func newMux(dispatchers []*dispatcher.Dispatcher, health HealthCheck, healthTimeout time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	for _, d := range dispatchers {
		mux.Handle(d.Service().Endpoint(), serviceHandler(d))
	}
	mux.HandleFunc("/health", handleHealth(health, healthTimeout))
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/", handleHome(dispatchers))
	return mux
}

// serviceHandler dispatches POST requests and answers GET with the worker's capability info.
func serviceHandler(d *dispatcher.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(HeaderAPIKey)

		switch r.Method {
		case http.MethodGet:
			writeOutcome(w, d.Describe(token))

		case http.MethodPost:
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeOutcome(w, outcome.Error(http.StatusRequestEntityTooLarge, "Request body too large."))
					return
				}
				writeOutcome(w, outcome.Error(http.StatusBadRequest, InvalidBodyMessage))
				return
			}
			if !json.Valid(body) {
				writeOutcome(w, outcome.Error(http.StatusBadRequest, InvalidBodyMessage))
				return
			}
			writeOutcome(w, d.Dispatch(r.Context(), &dispatcher.Request{
				Token:       token,
				Body:        body,
				Application: r.Header.Get(HeaderApplication),
			}))

		default:
			w.Header().Set("Allow", "GET, POST")
			writeOutcome(w, outcome.Error(http.StatusMethodNotAllowed, dispatcher.MethodNotSupportedMessage))
		}
	}
}

// writeOutcome renders an outcome with its status code and mimetype. JSON content is encoded;
// anything else is written as raw bytes.
func writeOutcome(w http.ResponseWriter, o *outcome.Outcome) {
	status := o.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if o.IsJSON() {
		writeJSON(w, status, o.Content)
		return
	}

	data, err := o.Bytes()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to render %s content: %v", logPrefix, o.MimeType, err))
		writeJSON(w, http.StatusInternalServerError, "Internal error while rendering the response.")
		return
	}
	w.Header().Set("Content-Type", o.MimeType)
	w.WriteHeader(status)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", outcome.DefaultMimeType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
	}
}

// homeEntry is one row of the home page.
type homeEntry struct {
	Name     string
	Endpoint string
	Remote   bool
	Timeout  time.Duration
}

const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Worker Bridge</title>
  <style>
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
  </style>
</head>
<body>
  <h1>Worker Bridge</h1>
  <p>POST a JSON body to a service endpoint to dispatch it. GET the endpoint for the worker's capability info.
  The <code>x-api-key</code> header selects the worker.</p>
  <table>
    <thead><tr><th>Service</th><th>Endpoint</th><th>Transport</th><th>Timeout</th></tr></thead>
    <tbody>
      {{range .}}
      <tr>
        <td>{{.Name}}</td>
        <td>{{.Endpoint}}</td>
        <td>{{if .Remote}}broker{{else}}in-process{{end}}</td>
        <td>{{.Timeout}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>
`

// handleHome lists the mounted services.
func handleHome(dispatchers []*dispatcher.Dispatcher) http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	entries := make([]homeEntry, 0, len(dispatchers))
	for _, d := range dispatchers {
		svc := d.Service()
		entries = append(entries, homeEntry{
			Name:     svc.Name(),
			Endpoint: svc.Endpoint(),
			Remote:   svc.Remote(),
			Timeout:  svc.Timeout(),
		})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, entries); err != nil {
			slog.Error(fmt.Sprintf("%s - home page: %v", logPrefix, err))
		}
	}
}
