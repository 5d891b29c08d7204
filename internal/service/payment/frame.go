package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/bus"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// The gateway markup runs in a sandboxed srcdoc frame without same-origin
// access. The host relays type-tagged messages to the signal endpoint.
var frameTmpl = template.Must(template.New("frame").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Payment</title>
</head>
<body>
<p>Total: {{.Sum}}</p>
<iframe id="payment-frame" sandbox="allow-scripts allow-forms" srcdoc="{{.Markup}}" style="width:100%;height:85vh;border:0"></iframe>
<script>
window.addEventListener("message", function (event) {
  var data = event.data;
  if (!data || data.type !== {{.SignalType}}) {
    return;
  }
  fetch({{.SignalURL}}, {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({type: data.type, externalReference: data.externalReference})
  });
});
</script>
</body>
</html>
`))

type frameData struct {
	Sum        string
	Markup     string
	SignalType string
	SignalURL  string
}

// Frame renders the host page embedding s's gateway form.
func Frame(s *Session, signalURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := frameTmpl.Execute(&buf, frameData{
		Sum:        s.Sum.StringFixed(2),
		Markup:     s.Form,
		SignalType: model.SignalPaymentSuccess,
		SignalURL:  signalURL,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Listener serves the payment frame and receives completion signals.
//
//	GET  /        host page of the shown session
//	POST /signal  {"type": ..., "externalReference": ...}
type Listener struct {
	signals *bus.Bus[model.PaymentSignal]
	router  chi.Router

	mu      sync.RWMutex
	current *Session
}

// NewListener creates a Listener publishing signals on the given bus.
func NewListener(signals *bus.Bus[model.PaymentSignal]) *Listener {
	if signals == nil {
		panic("payment.NewListener: nil signal bus")
	}
	l := &Listener{signals: signals}

	r := chi.NewRouter()
	r.Get("/", l.serveFrame)
	r.Post("/signal", l.receiveSignal)
	l.router = r
	return l
}

// Show makes s the session rendered at GET /. A nil s hides it.
func (l *Listener) Show(s *Session) {
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.router.ServeHTTP(w, r)
}

func (l *Listener) serveFrame(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	s := l.current
	l.mu.RUnlock()
	if s == nil {
		http.Error(w, "no payment in progress", http.StatusNotFound)
		return
	}

	page, err := Frame(s, "/signal")
	if err != nil {
		logger.FromCtx(r.Context()).Error(r.Context(), "render payment frame", zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(page)
}

func (l *Listener) receiveSignal(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()

	var sig model.PaymentSignal
	if err := dec.Decode(&sig); err != nil {
		http.Error(w, "invalid signal", http.StatusBadRequest)
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		http.Error(w, "invalid signal", http.StatusBadRequest)
		return
	}

	logger.FromCtx(r.Context()).Info(r.Context(), "payment signal received",
		zap.String("type", sig.Type),
		zap.String("external_reference", sig.ExternalReference))
	l.signals.Publish(sig)
	w.WriteHeader(http.StatusAccepted)
}
