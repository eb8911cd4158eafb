package web

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/merchantsec/guardspan"
)

// Config tunes the confirmation handler.
type Config struct {
	// FrontendOrigin is the scheme+host the success page forwards to,
	// e.g. "https://app.example.com". return_to is resolved against it.
	FrontendOrigin string
	// DefaultReturn is the path used when return_to is absent or unsafe.
	DefaultReturn string
}

// Handler serves GET /verify.
type Handler struct {
	engine *guardspan.Engine
	cfg    Config
	logger *zap.Logger
}

// NewHandler creates the confirmation handler. A nil logger is replaced
// with a no-op one.
func NewHandler(engine *guardspan.Engine, cfg Config, logger *zap.Logger) *Handler {
	if cfg.DefaultReturn == "" {
		cfg.DefaultReturn = "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, cfg: cfg, logger: logger}
}

// Routes returns the handler's router, mountable under any prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/verify", h.confirm)
	return r
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.renderError(w, http.StatusBadRequest,
			"This confirmation link is incomplete. Please use the link from your email.")
		return
	}

	conf, err := h.engine.ConfirmVerification(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, guardspan.ErrTokenExpired):
			h.renderError(w, http.StatusGone,
				"This confirmation link has expired. Request a new one from your account settings.")
		case errors.Is(err, guardspan.ErrTokenNotFound), errors.Is(err, guardspan.ErrInvalidInput):
			h.renderError(w, http.StatusBadRequest,
				"This confirmation link is invalid or has already been used.")
		case errors.Is(err, guardspan.ErrStoreUnavailable):
			h.logger.Error("confirmation store unavailable", zap.Error(err))
			h.renderError(w, http.StatusServiceUnavailable,
				"We could not process your confirmation right now. Please try again shortly.")
		default:
			h.logger.Error("confirmation failed", zap.Error(err))
			h.renderError(w, http.StatusInternalServerError,
				"Something went wrong while confirming your email.")
		}
		return
	}

	target := h.returnURL(r.URL.Query().Get("return_to"))
	heading := "Email verified"
	if conf.Kind == guardspan.KindEmailChange {
		heading = "Email address updated"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = successTemplate.Execute(w, successData{
		Heading: heading,
		Email:   conf.SubjectEmail,
		Target:  target,
	})
}

// returnURL resolves return_to against the frontend origin. Only the path
// survives; absolute and scheme-relative inputs are discarded.
func (h *Handler) returnURL(returnTo string) string {
	path := h.cfg.DefaultReturn
	if parsed, err := url.Parse(returnTo); err == nil &&
		parsed.Scheme == "" && parsed.Host == "" &&
		strings.HasPrefix(parsed.Path, "/") && !strings.HasPrefix(parsed.Path, "//") {
		path = parsed.Path
		if parsed.RawQuery != "" {
			path += "?" + parsed.RawQuery
		}
	}
	return strings.TrimSuffix(h.cfg.FrontendOrigin, "/") + path
}

func (h *Handler) renderError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = errorTemplate.Execute(w, errorData{Message: message})
}

type successData struct {
	Heading string
	Email   string
	Target  string
}

type errorData struct {
	Message string
}

var successTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="3;url={{.Target}}">
<title>{{.Heading}}</title>
</head>
<body>
<h1>{{.Heading}}</h1>
<p>{{.Email}} is confirmed. You will be redirected shortly.</p>
<p><a href="{{.Target}}">Continue</a></p>
</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Confirmation failed</title>
</head>
<body>
<h1>Confirmation failed</h1>
<p>{{.Message}}</p>
</body>
</html>
`))
