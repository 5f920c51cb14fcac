package handler

// Every JSON error from the API has the same shape:
//   {"error": "not_found", "message": "course not found with id abc123"}
// Pages map the same error classes to status codes and an error view.

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/logger"
)

// ErrorResponse is the error body of every API endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable class, e.g. "not_found"
	Message string `json:"message"` // safe to show
}

// writeJSON sends data as JSON. Headers and status go out before the body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.FromContext(r.Context()).Error("failed to encode JSON response", zap.Error(err))
		}
	}
}

// classify maps an error to its HTTP status and machine-readable class.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError sends err as an ErrorResponse. Errors without an AppError get
// a generic message so internals never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, class := classify(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", zap.Int("status", status), zap.Error(err))
	}

	msg := apperror.UserMessage(err)
	if status == http.StatusInternalServerError {
		msg = "An internal error occurred"
	}
	writeJSON(w, r, status, ErrorResponse{Error: class, Message: msg})
}

// errorPage is the data of the error view.
type errorPage struct {
	Message string
}

var statusTitles = map[int]string{
	http.StatusBadRequest:          "Something is not right",
	http.StatusForbidden:           "Not allowed",
	http.StatusNotFound:            "Not found",
	http.StatusConflict:            "Already done",
	http.StatusBadGateway:          "Something went wrong",
	http.StatusInternalServerError: "Something went wrong",
}

// Error renders the error view for err. A missing session sends the
// browser to the login page instead.
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := classify(err)
	if status == http.StatusUnauthorized {
		target := "/login"
		if r.Method == http.MethodGet {
			target += "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("page failed", zap.Int("status", status), zap.Error(err))
	}

	msg := apperror.UserMessage(err)
	switch status {
	case http.StatusNotFound:
		msg = "The page you were looking for does not exist."
	case http.StatusInternalServerError:
		msg = "Something went wrong. Please try again."
	}
	rd.renderError(w, r, status, msg)
}

// NotFound renders the not-found view with a resource-specific message.
func (rd *Renderer) NotFound(w http.ResponseWriter, r *http.Request, message string) {
	rd.renderError(w, r, http.StatusNotFound, message)
}

func (rd *Renderer) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	rd.Render(w, r, status, pageError, PageData{
		Title: statusTitles[status],
		Data:  errorPage{Message: message},
	})
}

// FormError re-renders a form page for errors the user can act on:
// validation failures next to their field, collaborator failures at the top
// of the form. Anything else gets the error view.
func (rd *Renderer) FormError(w http.ResponseWriter, r *http.Request, page string, data PageData, err error) {
	var appErr *apperror.AppError
	switch {
	case errors.Is(err, apperror.ErrValidation) && errors.As(err, &appErr):
		if appErr.Field != "" {
			if data.Errors == nil {
				data.Errors = map[string]string{}
			}
			data.Errors[appErr.Field] = appErr.Message
		} else {
			data.Error = appErr.Message
		}
		rd.Render(w, r, http.StatusBadRequest, page, data)
	case errors.Is(err, apperror.ErrUpstream):
		logger.FromContext(r.Context()).Error("form submission failed", zap.String("page", page), zap.Error(err))
		data.Error = apperror.UserMessage(err)
		rd.Render(w, r, http.StatusBadGateway, page, data)
	default:
		rd.Error(w, r, err)
	}
}
