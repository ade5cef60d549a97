package bridge

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	logx "blackoutd/pkg/logx"
)

const maxBodyBytes = 64 << 10

// Poster accepts a message without blocking.
type Poster interface {
	Post(m Message) bool
}

// DeepLinker opens the panel for a deep-link URL.
type DeepLinker interface {
	OpenFromURL(raw string) bool
}

// Routes exposes the in-process mailbox to local producers:
//
//	POST /messages  a bridge message as JSON; 202 when queued
//	POST /open      {"url": "..."}; 202 when the URL is a panel deep link
func Routes(inbox Poster, links DeepLinker, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Post("/messages", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		m, err := Decode(body)
		if err != nil {
			log.Debug("bridge http: rejected message", logx.Err(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !inbox.Post(m) {
			http.Error(w, "mailbox full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	r.Post("/open", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&in); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if links == nil || !links.OpenFromURL(in.URL) {
			http.Error(w, "not a notifications deep link", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return r
}
