package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/curator/pkg/apperr"
)

// MaxJSONBody bounds the request bodies read by ParseJSON.
const MaxJSONBody = 1 << 20

// ParseJSON decodes a single JSON value from the request body into dest.
// Unknown fields and trailing data are rejected. Failures are validation errors
// on the "body" field.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body", "is empty")
		}
		return apperr.Validation("body", "invalid JSON: "+err.Error())
	}
	if dec.More() {
		return apperr.Validation("body", "invalid JSON: trailing data")
	}
	return nil
}

// ParseJSONOrError decodes the body and writes a 400 on failure.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteAppError(w, r, err)
		return false
	}
	return true
}

type parseFunc[T any] func(string) (T, error)

var (
	parseInt   parseFunc[int]       = strconv.Atoi
	parseBool  parseFunc[bool]      = strconv.ParseBool
	parseUUID  parseFunc[uuid.UUID] = uuid.Parse
	parseInt64 parseFunc[int64]     = func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
)

func convert[T any](key, kind, raw string, parse parseFunc[T]) (T, error) {
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, apperr.Validation(key, fmt.Sprintf("must be %s, got %q", kind, raw))
	}
	return v, nil
}

func pathParam[T any](r *http.Request, key, kind string, parse parseFunc[T]) (T, error) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		var zero T
		return zero, apperr.Validation(key, "is required")
	}
	return convert(key, kind, raw, parse)
}

func queryParam[T any](r *http.Request, key, kind string, def T, parse parseFunc[T]) (T, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return convert(key, kind, raw, parse)
}

// ParsePathInt64 parses the numeric path variable key.
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	return pathParam(r, key, "an integer", parseInt64)
}

// ParsePathUUID parses the UUID path variable key.
func ParsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return pathParam(r, key, "a UUID", parseUUID)
}

// ParsePathInt64OrError is ParsePathInt64 writing a 400 on failure.
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	v, err := ParsePathInt64(r, key)
	if err != nil {
		WriteAppError(w, r, err)
		return 0, false
	}
	return v, true
}

// ParsePathUUIDOrError is ParsePathUUID writing a 400 on failure.
func ParsePathUUIDOrError(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := ParsePathUUID(r, key)
	if err != nil {
		WriteAppError(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

// ParseQueryInt returns the integer query parameter key, or def when absent.
func ParseQueryInt(r *http.Request, key string, def int) (int, error) {
	return queryParam(r, key, "an integer", def, parseInt)
}

// ParseQueryBool returns the boolean query parameter key, or def when absent.
func ParseQueryBool(r *http.Request, key string, def bool) (bool, error) {
	return queryParam(r, key, "a boolean", def, parseBool)
}

// ParseQueryString returns the query parameter key, or def when absent.
func ParseQueryString(r *http.Request, key string, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}

// ParseQueryUUID returns the UUID query parameter key, nil when absent.
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	id, err := queryParam(r, key, "a UUID", uuid.Nil, parseUUID)
	if err != nil || id == uuid.Nil {
		return nil, err
	}
	return &id, nil
}
