// Package portal implements the captive provisioning HTTP server: a
// single form accepting WiFi SSID/password, served over gorilla/mux
// the way reef-pi registers its subsystem HTTP routes, scaled down to
// the one-form surface this device needs.
package portal

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Timeout is the maximum lifetime of a portal session before it
// closes itself regardless of submission.
const Timeout = 120 * time.Second

// APSSID and APPassword are the fixed access-point credentials this
// device advertises while the portal is active, per this repository's
// external-interface contract for provisioning.
const (
	APSSID     = "Greenhouse-Setup"
	APPassword = "password123"
)

// Credentials is what a completed portal submission yields.
type Credentials struct {
	SSID     string
	Password string
}

var formTemplate = template.Must(template.New("form").Parse(`<!doctype html>
<html><head><title>Greenhouse Setup</title></head>
<body>
<h1>Greenhouse Setup</h1>
<form method="POST" action="/save">
  <label>WiFi SSID: <input name="ssid" required></label><br>
  <label>WiFi Password: <input name="password" type="password"></label><br>
  <button type="submit">Save &amp; Connect</button>
</form>
</body></html>`))

// Portal owns the captive HTTP server's lifetime. Run blocks until
// either a submission is received, the timeout elapses, or ctx is
// canceled (the latter driven by the connectivity task's
// StopPortalPending intent), matching the "portal is non-blocking;
// other components keep running while it's active" requirement — the
// caller runs Portal.Run in its own goroutine.
type Portal struct {
	listener net.Listener
	server   *http.Server
	result   chan Credentials
}

// New binds the captive server. The access point itself advertises
// APSSID/APPassword while the portal is active; those are not the
// WiFi credentials this form collects.
func New() (*Portal, error) {
	listener, err := net.Listen("tcp", ":80")
	if err != nil {
		return nil, fmt.Errorf("bind portal listener: %w", err)
	}

	p := &Portal{
		listener: listener,
		result:   make(chan Credentials, 1),
	}

	router := mux.NewRouter()
	router.HandleFunc("/", p.handleForm).Methods(http.MethodGet)
	router.HandleFunc("/save", p.handleSave).Methods(http.MethodPost)

	p.server = &http.Server{Handler: router}
	return p, nil
}

func (p *Portal) handleForm(w http.ResponseWriter, r *http.Request) {
	_ = formTemplate.Execute(w, nil)
}

func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	creds := Credentials{
		SSID:     r.PostFormValue("ssid"),
		Password: r.PostFormValue("password"),
	}
	if creds.SSID == "" {
		http.Error(w, "ssid is required", http.StatusBadRequest)
		return
	}
	fmt.Fprint(w, "Saved. Reconnecting...")
	select {
	case p.result <- creds:
	default:
	}
}

// Run serves until ctx is canceled, Timeout elapses, or a submission
// arrives, whichever comes first. Returns the submitted credentials
// and whether a submission actually happened.
func (p *Portal) Run(ctx context.Context) (Credentials, bool) {
	go p.server.Serve(p.listener)
	defer p.server.Close()

	timer := time.NewTimer(Timeout)
	defer timer.Stop()

	select {
	case creds := <-p.result:
		return creds, true
	case <-timer.C:
		return Credentials{}, false
	case <-ctx.Done():
		return Credentials{}, false
	}
}
