package main

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/pkg/errors"
)

type api struct {
	manager    *watcher.Manager
	directory  *watcher.Directory
	dispatcher *watcher.Dispatcher
	feedback   *watcher.FeedbackLog
	conf       common.Configuration
}

func (a *api) register(m *common.KodekMux) {
	m.HandleFunc("/devices", a.listDevices).Methods(http.MethodGet)
	m.HandleFunc("/devices/{ident}", a.getDevice).Methods(http.MethodGet)
	m.HandleFunc("/devices/{ident}/watch", a.watch).Methods(http.MethodPost)
	m.HandleFunc("/devices/{ident}/watch", a.unwatch).Methods(http.MethodDelete)
	m.HandleFunc("/devices/{ident}/commands/{name}", a.sendCommand).Methods(http.MethodPost)
	m.HandleFunc("/feedback", a.listFeedback).Methods(http.MethodGet)
	m.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		a.conf.WriteRedacted(w)
	}).Methods(http.MethodGet)
}

type deviceView struct {
	car.Device
	Watched bool                   `json:"watched"`
	Status  *watcher.SessionStatus `json:"status,omitempty"`
}

func (a *api) view(ident string) (deviceView, bool) {
	d, known := a.directory.Resolve(ident)
	if !known {
		d = car.Device{Ident: ident}
	}
	v := deviceView{Device: d}
	if s, ok := a.manager.Get(ident); ok {
		st := s.Status()
		v.Watched = true
		v.Status = &st
	}
	return v, known || v.Watched
}

func (a *api) listDevices(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	out := []deviceView{}
	for _, d := range a.directory.Devices() {
		v, _ := a.view(d.Ident)
		out = append(out, v)
		seen[d.Ident] = true
	}
	// Watched devices the roster has not reported yet.
	for _, s := range a.manager.Sessions() {
		if seen[s.Ident()] {
			continue
		}
		v, _ := a.view(s.Ident())
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getDevice(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(mux.Vars(r)["ident"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) watch(w http.ResponseWriter, r *http.Request) {
	ident := mux.Vars(r)["ident"]
	_, err := a.manager.Attach(ident)
	switch {
	case errors.Cause(err) == watcher.ErrAlreadyWatched:
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		v, _ := a.view(ident)
		writeJSON(w, http.StatusCreated, v)
	}
}

func (a *api) unwatch(w http.ResponseWriter, r *http.Request) {
	err := a.manager.Detach(mux.Vars(r)["ident"])
	switch {
	case err == watcher.ErrNotWatched:
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *api) sendCommand(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ack, err := a.dispatcher.Dispatch(r.Context(), vars["ident"], vars["name"])
	switch {
	case err == watcher.ErrDeviceNotResolved:
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, ack)
	}
}

func (a *api) listFeedback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.feedback.Recent())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("Cannot encode response: %s", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
