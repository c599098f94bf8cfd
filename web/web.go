// Package web embeds the browser UI and serves it alongside the API.
// Static assets live under /app/; every other path gets the SPA shell
// so client-side routes survive a reload.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:dist
var dist embed.FS

// Handler returns the UI handler. It serves static files for /app/*
// and falls back to index.html for everything else.
func Handler() http.Handler {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/app/") {
			name := strings.TrimPrefix(r.URL.Path, "/")
			if _, err := fs.Stat(sub, name); err == nil {
				files.ServeHTTP(w, r)
				return
			}
			http.NotFound(w, r)
			return
		}
		index, err := fs.ReadFile(sub, "index.html")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(index)
	})
}
