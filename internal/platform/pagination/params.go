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
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded responses.
	DefaultMaxPageSize = 100
)

// Params bundles the paging and ordering values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Desc      bool
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// OrderField is the only field accepted in orderBy. Empty disables ordering.
	OrderField string
	// DefaultDesc is the direction used when orderBy is omitted.
	DefaultDesc bool
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid orderBy")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize, Desc: opts.DefaultDesc}

	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	if raw := strings.TrimSpace(values.Get("orderBy")); raw != "" {
		desc, err := parseOrder(raw, opts.OrderField)
		if err != nil {
			return Params{}, err
		}
		params.Desc = desc
	}
	if params.PageToken != "" && params.Cursor.Desc != params.Desc {
		return Params{}, fmt.Errorf("%w: token was issued for another ordering", ErrInvalidPageToken)
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

// parseOrder accepts "field", "field asc", "field desc" and the colon forms.
func parseOrder(raw, allowed string) (bool, error) {
	if allowed == "" {
		return false, fmt.Errorf("%w: ordering not supported", ErrInvalidOrderBy)
	}
	if strings.Contains(raw, ":") && !strings.Contains(raw, " ") {
		raw = strings.ReplaceAll(raw, ":", " ")
	}
	segments := strings.Fields(raw)
	if len(segments) == 0 || len(segments) > 2 {
		return false, fmt.Errorf("%w: invalid orderBy format %q", ErrInvalidOrderBy, raw)
	}
	if segments[0] != allowed {
		return false, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, segments[0])
	}
	if len(segments) == 1 {
		return false, nil
	}
	switch strings.ToLower(segments[1]) {
	case "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, segments[1])
	}
}
