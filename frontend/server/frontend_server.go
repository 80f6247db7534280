package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/kodek/doorguard/common"
	"github.com/kodek/doorguard/watcher/databases"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

var port = flag.Int("port", 8081, "The port to serve on")

const defaultDispatchLimit = 50

// frontend_server provides a read-only REST interface to the watcher's SQLite storage.
func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()

	conf := common.LoadConfig()
	if conf.Watcher.SqlitePath == "" {
		glog.Fatal("config.Watcher.SqlitePath is required by the frontend server")
	}

	database, err := databases.OpenSqliteDatabase(conf.Watcher.SqlitePath)
	if err != nil {
		panic(err)
	}
	defer database.Close()

	m := common.NewKodekMux("Doorguard Frontend")
	m.HandleFunc("/", common.RedirectToStatusz)
	registerHandlers(m, database)

	listenSpec := fmt.Sprintf(":%d", *port)
	glog.Infof("Starting Doorguard Frontend server at %s", listenSpec)
	glog.Fatal(http.ListenAndServe(listenSpec, m))
}

type latestResponse struct {
	Record *rules.TelemetryRecord `json:"record"`
	State  *rules.VehicleState    `json:"state"`
}

func registerHandlers(m *common.KodekMux, database *databases.SqliteDatabase) {
	getLatestHandler := func(w http.ResponseWriter, r *http.Request) {
		ident := mux.Vars(r)["ident"]
		rec, state, err := database.GetLatestWithState(r.Context(), ident)
		if errors.Cause(err) == databases.ErrNoRecords {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Error querying database: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, latestResponse{Record: rec, State: state})
	}

	getDispatchesHandler := func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDispatchLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		events, err := database.ListDispatches(r.Context(), mux.Vars(r)["ident"], limit)
		if err != nil {
			http.Error(w, "Error querying database: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []databases.DispatchEvent{}
		}
		writeJSON(w, events)
	}

	m.HandleFunc("/latest/{ident}", getLatestHandler).Methods(http.MethodGet)
	m.HandleFunc("/dispatches/{ident}", getDispatchesHandler).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
