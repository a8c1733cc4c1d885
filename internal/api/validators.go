package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const dateLayout = "2006-01-02"

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, name string, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get(name); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseServerID parses the {id} path parameter. Server ids are positive.
func parseServerID(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, errors.New("server id required")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid server id")
	}
	return id, nil
}

// parseOptionalServerID reads the server_id query parameter
func parseOptionalServerID(r *http.Request) (*int64, error) {
	s := r.URL.Query().Get("server_id")
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("invalid server_id")
	}
	return &id, nil
}

// parseDateRange reads inclusive from/to dates in YYYY-MM-DD form
func parseDateRange(r *http.Request) (from, to string, err error) {
	q := r.URL.Query()
	from, to = q.Get("from"), q.Get("to")
	var fromT, toT time.Time
	if from != "" {
		if fromT, err = time.Parse(dateLayout, from); err != nil {
			return "", "", fmt.Errorf("invalid from date %q, want YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if toT, err = time.Parse(dateLayout, to); err != nil {
			return "", "", fmt.Errorf("invalid to date %q, want YYYY-MM-DD", to)
		}
	}
	if from != "" && to != "" && toT.Before(fromT) {
		return "", "", errors.New("to date is before from date")
	}
	return from, to, nil
}

// parseBool reads a boolean query parameter, defaulting to false
func parseBool(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}
