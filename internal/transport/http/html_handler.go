package http

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"shopmgr/internal/entitlement"
)

//go:embed templates/*.html
var templateFS embed.FS

var activationTemplate = template.Must(template.ParseFS(templateFS, "templates/activation.html"))

type activationView struct {
	State            entitlement.AccessState
	RejectionMessage string
}

// ActivationPage renders the built-in activation page with the current
// entitlement state.
func ActivationPage(service EntitlementService, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		state := service.Resolve(r.Context())

		var buf bytes.Buffer
		err := activationTemplate.Execute(&buf, activationView{
			State:            state,
			RejectionMessage: state.LicenseRejection.Message(),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "render activation page", slog.String("error", err.Error()))
			http.Error(w, "Error rendering page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = buf.WriteTo(w)
	}
}

// StaticSite serves the shop UI from webDir, falling back to index.html for
// client-side routes. It returns nil when webDir has no index.html.
func StaticSite(webDir string) http.Handler {
	index := filepath.Join(webDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return nil
	}

	files := http.FileServer(http.Dir(webDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + r.URL.Path)
		if clean != "/" && !strings.HasPrefix(clean, "/api/") {
			if _, err := os.Stat(filepath.Join(webDir, filepath.FromSlash(clean))); err != nil {
				http.ServeFile(w, r, index)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
