package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/registryx/grain/internal/rlog"
	"github.com/registryx/grain/pkg/admin"
	"github.com/registryx/grain/pkg/config"
	"github.com/registryx/grain/pkg/gc"
	"github.com/registryx/grain/pkg/registry"
	"github.com/registryx/grain/pkg/storage"
	"github.com/registryx/grain/pkg/users"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		rlog.Server.Fatalf("parsing configuration: %v", err)
	}

	backend, err := storage.New(cfg.StorageRoot)
	if err != nil {
		rlog.Server.Fatalf("initializing storage at %s: %v", cfg.StorageRoot, err)
	}

	userStore, err := users.Load(cfg.UsersFile, cfg.StrictStart)
	if err != nil {
		rlog.Server.Fatalf("loading users file %s: %v", cfg.UsersFile, err)
	}

	router := mux.NewRouter()
	registry.New(backend, userStore, cfg.Host).Mount(router)
	admin.New(userStore, gc.New(backend), cfg.Host).Mount(router)

	rlog.Server.Printf("listening on %s (storage root %s, users file %s)", cfg.Host, cfg.StorageRoot, cfg.UsersFile)
	if err := http.ListenAndServe(cfg.Host, router); err != nil {
		rlog.Server.Fatalf("server exited: %v", err)
	}
}
