package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"

	"oidcprovider/internal/lib/oautherr"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in failed</title></head>
<body>
<h1>Sign in failed</h1>
<p>The application sent an invalid sign in request, so you were not sent back to it.</p>
<p><code>{{.Code}}</code>: {{.Description}}</p>
</body>
</html>
`))

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOAuthError answers with the json error body; server errors never leak their cause
func writeOAuthError(w http.ResponseWriter, e *oautherr.Error) {
	writeJSON(w, e.Status, errorBody{Error: e.Code, ErrorDescription: e.Description})
}

// deliverAuthorizeError redirects to a verified redirect uri or renders the error page
func (h *Handler) deliverAuthorizeError(w http.ResponseWriter, r *http.Request, err error) {
	e := oautherr.From(err)
	if e.Code == oautherr.CodeServerError {
		h.log.Error("authorization failed", slog.String("error", err.Error()))
	}
	if e.Redirectable() {
		location, lerr := e.RedirectLocation()
		if lerr == nil {
			http.Redirect(w, r, location, http.StatusFound)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(e.Status)
	if terr := errorPage.Execute(w, e); terr != nil {
		h.log.Error("failed to render error page", slog.String("error", terr.Error()))
	}
}

type apiError struct {
	Error string `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}
