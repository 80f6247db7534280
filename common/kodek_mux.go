package common

import (
	_ "embed"
	"expvar"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed templates/statusz.html
var statuszTemplateText string

var (
	httpCounts    = expvar.NewMap("http_counts")
	httpLatencyMs = expvar.NewMap("http_latency_ms")
)

// KodekMux adds middleware functionality to all attached handlers, plus special handlers
// for monitoring (/statusz, /healthz, /metrics and expvar metrics)
type KodekMux struct {
	*mux.Router
	name            string
	patterns        []string // used for statusz reporting
	statuszTemplate *template.Template
}

// NewKodekMux creates a new KodekMux to handle all http requests.
func NewKodekMux(name string) *KodekMux {
	m := &KodekMux{
		Router:          mux.NewRouter(),
		name:            name,
		statuszTemplate: template.Must(template.New("statusz").Parse(statuszTemplateText)),
	}
	// Don't add middleware to the following
	m.Router.HandleFunc("/statusz", m.handleStatusz)
	m.Router.HandleFunc("/healthz", m.handleHealthz)
	m.Router.Handle("/debug/vars", expvar.Handler())
	m.Router.Handle("/metrics", promhttp.Handler())
	m.patterns = append(m.patterns, "/statusz", "/healthz", "/debug/vars", "/metrics")
	sort.Strings(m.patterns)
	return m
}

// HandleFunc adds a new Handler function with all middleware. The returned route
// can be narrowed further, e.g. with Methods.
func (m *KodekMux) HandleFunc(pattern string, handler func(w http.ResponseWriter, r *http.Request)) *mux.Route {
	m.patterns = append(m.patterns, pattern)
	sort.Strings(m.patterns)
	return m.Router.HandleFunc(pattern, wrapHandler(pattern, handler))
}

// handleStatusz implements the /statusz handler.
func (m *KodekMux) handleStatusz(w http.ResponseWriter, r *http.Request) {
	data := struct {
		ServerName    string
		BuildTime     string
		Commit        string
		CommitMessage string
		BuildUrl      string
		Patterns      []string
	}{
		ServerName:    m.name,
		BuildTime:     BuildTime,
		Commit:        Commit,
		CommitMessage: CommitMessage,
		BuildUrl:      BuildUrl,
		Patterns:      m.patterns,
	}
	if err := m.statuszTemplate.Execute(w, data); err != nil {
		glog.Errorf("Cannot render statusz: %s", err)
	}
}

// handleHealthz implements the /healthz handler.
func (m *KodekMux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

// userHandler represents an external handler.
type userHandler struct {
	name string
}

// wrapHandler wraps a given handler into a userHandler that's then used to attach all middleware.
func wrapHandler(name string, f http.HandlerFunc) http.HandlerFunc {
	h := userHandler{
		name: name,
	}
	return h.metrics(h.logging(f))
}

// metrics exports expvar metrics for the handler.
func (h *userHandler) metrics(f http.HandlerFunc) http.HandlerFunc {
	recordTime := func(start time.Time) {
		sinceStart := time.Since(start)
		httpCounts.Add(h.name, 1)
		httpLatencyMs.Add(h.name, sinceStart.Nanoseconds()/int64(time.Millisecond))
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer recordTime(start)
		f(w, r)
	}
}

// codeCapturingResponseWriter wraps ResponseWriter to capture the response HTTP code.
type codeCapturingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// newCodeCapturingResponseWriter creates a new codeCapturingResponseWriter.
func newCodeCapturingResponseWriter(w http.ResponseWriter) *codeCapturingResponseWriter {
	return &codeCapturingResponseWriter{w, http.StatusOK}
}

// WriterHeader wraps ResponseWriter and stores the given response code into codeCapturingResponseWriter.
func (ccrw *codeCapturingResponseWriter) WriteHeader(code int) {
	ccrw.statusCode = code
	ccrw.ResponseWriter.WriteHeader(code)
}

// logging logs the given request using glog.
func (h *userHandler) logging(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ccrw := newCodeCapturingResponseWriter(w)
		f(ccrw, r)
		glog.Infof("[%s] src: %s for %s %s with response %s (%d)",
			h.name, r.RemoteAddr, r.Method, r.URL, http.StatusText(ccrw.statusCode), ccrw.statusCode)
	}
}

// RedirectToStatusz is the default "/" handler of every server.
func RedirectToStatusz(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/statusz", http.StatusSeeOther)
}
