package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100

	maxPageTokenLength = 2048
)

// Params bundles the page size and continuation token extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options control how Parse behaves for a given listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// FromRequest parses the pagination query parameters of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token (camelCase spellings are accepted too). Sizes above the
// maximum are clamped; non-numeric or negative sizes are rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}

	params := Params{PageSize: def}
	if raw := first(values, "page_size", "pageSize"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size < 0 {
			return Params{}, fmt.Errorf("%w: must not be negative", ErrInvalidPageSize)
		}
		if size > 0 {
			params.PageSize = min(size, limit)
		}
	}

	if raw := first(values, "page_token", "pageToken"); raw != "" {
		if len(raw) > maxPageTokenLength {
			return Params{}, fmt.Errorf("%w: token too long", ErrInvalidPageToken)
		}
		cursor, err := ParseToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}

func first(values url.Values, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
