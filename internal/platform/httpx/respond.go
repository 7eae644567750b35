// Package httpx renders the panel API envelopes. Every success response is
// either an object envelope, a paginated list envelope, or a bare 204;
// every failure is an errors array with stable code strings.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Object is the single-resource success envelope.
type Object struct {
	ObjectType    string         `json:"object"`
	Attributes    any            `json:"attributes"`
	Relationships map[string]any `json:"relationships,omitempty"`
}

// List is the paginated collection envelope.
type List struct {
	ObjectType string   `json:"object"`
	Data       []Object `json:"data"`
	Meta       ListMeta `json:"meta"`
}

// ListMeta carries pagination details for list responses.
type ListMeta struct {
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the current page of a list response.
type Pagination struct {
	Total       int `json:"total"`
	Count       int `json:"count"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

// NewPagination derives pagination fields from page parameters and totals.
func NewPagination(page, perPage, count, total int) Pagination {
	pages := total / perPage
	if total%perPage != 0 || pages == 0 {
		pages++
	}
	return Pagination{
		Total:       total,
		Count:       count,
		PerPage:     perPage,
		CurrentPage: page,
		TotalPages:  pages,
	}
}

// Unpaginated describes a list served whole, without paging.
func Unpaginated(count int) Pagination {
	perPage := count
	if perPage == 0 {
		perPage = 1
	}
	return Pagination{Total: count, Count: count, PerPage: perPage, CurrentPage: 1, TotalPages: 1}
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Item writes a single-resource envelope.
func Item(w http.ResponseWriter, status int, objectType string, attributes any) {
	JSON(w, status, Object{ObjectType: objectType, Attributes: attributes})
}

// Collection writes a list envelope.
func Collection(w http.ResponseWriter, objectType string, attributes []any, p Pagination) {
	data := make([]Object, 0, len(attributes))
	for _, attr := range attributes {
		data = append(data, Object{ObjectType: objectType, Attributes: attr})
	}
	JSON(w, http.StatusOK, List{ObjectType: "list", Data: data, Meta: ListMeta{Pagination: p}})
}

// NoContent writes the bare 204 used by pure actions.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeJSON decodes a JSON request body into target.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

// QueryInt reads an integer query parameter with a fallback.
func QueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
