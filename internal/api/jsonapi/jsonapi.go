// Package jsonapi provides lightweight JSON:API 1.1 envelope types and
// rendering helpers. Built on encoding/json.
package jsonapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/d9705996/schoolhub/internal/apperror"
)

const contentType = "application/vnd.api+json"

// Document is a JSON:API single-resource document. Included carries
// related resources such as the caller's organization and person.
type Document struct {
	Data     any   `json:"data"`
	Included []any `json:"included,omitempty"`
	Meta     Meta  `json:"meta,omitempty"`
}

// ListDocument is a JSON:API collection document.
type ListDocument struct {
	Data []any `json:"data"`
	Meta Meta  `json:"meta,omitempty"`
}

// ResourceObject is the canonical JSON:API resource object.
type ResourceObject struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    any                     `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Meta          Meta                    `json:"meta,omitempty"`
}

// Relationship is a to-one linkage; Data is a {type, id} identifier.
type Relationship struct {
	Data any `json:"data"`
}

// Meta is a free-form map of non-standard meta-information.
type Meta map[string]any

// ErrorDocument is a JSON:API error response document.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject represents a single JSON:API error.
type ErrorObject struct {
	Status string       `json:"status,omitempty"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
	Meta   Meta         `json:"meta,omitempty"`
}

// ErrorSource identifies the source of a JSON:API error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// Render writes a JSON:API document to w with the given HTTP status code.
func Render(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

// RenderOne writes a single-resource document.
func RenderOne(w http.ResponseWriter, status int, data any) {
	Render(w, status, Document{Data: data})
}

// RenderList writes a collection document with its size in meta.count.
// A nil slice renders as an empty array.
func RenderList(w http.ResponseWriter, status int, data []any) {
	if data == nil {
		data = []any{}
	}
	Render(w, status, ListDocument{Data: data, Meta: Meta{"count": len(data)}})
}

// RenderError writes a single JSON:API error.
func RenderError(w http.ResponseWriter, status int, code, title, detail string) {
	RenderErrors(w, status, []ErrorObject{
		{
			Status: http.StatusText(status),
			Code:   code,
			Title:  title,
			Detail: detail,
		},
	})
}

// RenderErrors writes multiple JSON:API errors.
func RenderErrors(w http.ResponseWriter, status int, errs []ErrorObject) {
	Render(w, status, ErrorDocument{Errors: errs})
}

// RenderErr writes err as a JSON:API error, deriving status and code from
// its apperror class. Unclassified errors are rendered as a bare 500 so
// internal detail never reaches the client.
func RenderErr(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	obj := ErrorObject{
		Status: http.StatusText(status),
		Code:   apperror.Code(err),
		Title:  http.StatusText(status),
		Detail: apperror.Message(err),
	}
	var dep *apperror.DependencyError
	if errors.As(err, &dep) {
		obj.Meta = Meta{"retryable": dep.Retryable}
		if dep.Retryable {
			w.Header().Set("Retry-After", "30")
		}
	}
	RenderErrors(w, status, []ErrorObject{obj})
}
