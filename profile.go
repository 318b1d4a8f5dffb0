/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	base := cfg.prefix + "/pprof/"

	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handler("GET", base+name, pprof.Handler(name))
	}

	mux.HandlerFunc("GET", base+"cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", base+"profile", pprof.Profile)
	mux.HandlerFunc("GET", base+"symbol", pprof.Symbol)
	mux.HandlerFunc("GET", base+"trace", pprof.Trace)

	logf(cfg, "SERVE: Profiling handlers registered under %s", base)
}
