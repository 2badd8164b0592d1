package pagination

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !reflect.DeepEqual(params.Cursor, Cursor{}) {
		t.Fatalf("expected empty token and cursor, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("page_size", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("page_size", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}

	values = url.Values{}
	values.Set("pageSize", "0")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 25 {
		t.Fatalf("expected zero to fall back to default, got %d", params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "-1"} {
		values := url.Values{}
		values.Set("page_size", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("expected ErrInvalidPageSize for %q, got %v", raw, err)
		}
	}
}

func TestParsePageToken(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	token := AfterCreated(at, "bk_1").Token()
	values := url.Values{}
	values.Set("page_token", token)

	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token %q got %q", token, params.PageToken)
	}
	if params.Cursor.After != "bk_1" || !params.Cursor.CreatedAt.Equal(at) {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}
	if err := params.Cursor.RequireCreated(); err != nil {
		t.Fatalf("expected created cursor, got %v", err)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{}
	values.Set("page_token", "%%%")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestZeroCursorToken(t *testing.T) {
	if token := (Cursor{}).Token(); token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
	cursor, err := ParseToken("  ")
	if err != nil || !cursor.IsZero() {
		t.Fatalf("expected zero cursor, got %#v %v", cursor, err)
	}
}

func TestKeyCursorRejectedByCreatedListing(t *testing.T) {
	cursor, err := ParseToken(AfterKey("SPRING10").Token())
	if err != nil {
		t.Fatalf("ParseToken returned error: %v", err)
	}
	if cursor.After != "SPRING10" {
		t.Fatalf("unexpected cursor %#v", cursor)
	}
	if err := cursor.RequireCreated(); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestParseTokenRejectsForeignPayload(t *testing.T) {
	foreign := base64.RawURLEncoding.EncodeToString([]byte(`{"startAfter":["x"]}`))
	if _, err := ParseToken(foreign); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/api/v1/bookings?page_size=10", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 10 {
		t.Fatalf("expected page size 10 got %d", params.PageSize)
	}
	if _, err := FromRequest(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil request")
	}
}
