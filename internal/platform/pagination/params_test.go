package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{DefaultDesc: true})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.Cursor.Offset != 0 {
		t.Fatalf("expected empty cursor, got %#v", params)
	}
	if !params.Desc {
		t.Fatalf("expected default direction to be descending")
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}

	for _, raw := range []string{"abc", "0", "-3"} {
		values.Set("pageSize", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("%s: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestParseOrderBy(t *testing.T) {
	opts := Options{OrderField: "createdAt", DefaultDesc: true}
	cases := map[string]bool{
		"createdAt":      false,
		"createdAt asc":  false,
		"createdAt:desc": true,
		"createdAt DESC": true,
	}
	for raw, want := range cases {
		params, err := Parse(url.Values{"orderBy": {raw}}, opts)
		if err != nil {
			t.Fatalf("%s: Parse returned error: %v", raw, err)
		}
		if params.Desc != want {
			t.Fatalf("%s: expected desc=%v", raw, want)
		}
	}
	for _, raw := range []string{"price desc", "createdAt sideways", "createdAt desc extra"} {
		if _, err := Parse(url.Values{"orderBy": {raw}}, opts); !errors.Is(err, ErrInvalidOrderBy) {
			t.Fatalf("%s: expected ErrInvalidOrderBy, got %v", raw, err)
		}
	}
	if _, err := Parse(url.Values{"orderBy": {"createdAt"}}, Options{}); !errors.Is(err, ErrInvalidOrderBy) {
		t.Fatalf("expected ordering to be rejected when unsupported, got %v", err)
	}
}

func TestSliceWalksAllPages(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	opts := Options{DefaultPageSize: 2, OrderField: "createdAt", DefaultDesc: true}

	var collected []int
	token := ""
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatalf("pagination did not terminate")
		}
		req := httptest.NewRequest("GET", "/history?pageToken="+url.QueryEscape(token), nil)
		params, err := FromRequest(req, opts)
		if err != nil {
			t.Fatalf("FromRequest returned error: %v", err)
		}
		page, next, err := Slice(items, params)
		if err != nil {
			t.Fatalf("Slice returned error: %v", err)
		}
		collected = append(collected, page...)
		if next == "" {
			break
		}
		token = next
	}
	if len(collected) != len(items) {
		t.Fatalf("expected %d items, got %v", len(items), collected)
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	if _, err := Parse(url.Values{"pageToken": {"%%%"}}, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	token, err := EncodeToken(Cursor{Offset: 2, Desc: true})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	values := url.Values{"pageToken": {token}, "orderBy": {"createdAt asc"}}
	if _, err := Parse(values, Options{OrderField: "createdAt"}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected direction mismatch to be rejected, got %v", err)
	}
	page, next, err := Slice([]string{"a"}, Params{Cursor: Cursor{Offset: 4}})
	if err != nil || len(page) != 0 || next != "" {
		t.Fatalf("expected empty page past the end, got %v %q %v", page, next, err)
	}
}
