package api

import (
	"net/http"
	"strconv"

	"github.com/landwatch/landwatch/internal/fetchlog"
)

// HandleListFetchLog serves GET /fetch-log/. A nil repo means the fetch log
// is disabled; the route then answers 404.
func HandleListFetchLog(repo *fetchlog.Repo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			WriteError(w, http.StatusNotFound, "The fetch log is disabled.", nil)
			return
		}

		q := r.URL.Query()
		f := fetchlog.Filter{
			Outcome: q.Get("outcome"),
		}
		if v := q.Get("land"); v != "" {
			land, err := strconv.Atoi(v)
			if err != nil || land < 1 {
				WriteError(w, http.StatusUnprocessableEntity, "Invalid land number.", v)
				return
			}
			f.Land = land
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				WriteError(w, http.StatusUnprocessableEntity, "Invalid limit.", v)
				return
			}
			f.Limit = limit
		}
		if v := q.Get("offset"); v != "" {
			offset, err := strconv.Atoi(v)
			if err != nil || offset < 0 {
				WriteError(w, http.StatusUnprocessableEntity, "Invalid offset.", v)
				return
			}
			f.Offset = offset
		}

		items, err := repo.List(f)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list fetch attempts.", err.Error())
			return
		}
		if items == nil {
			items = []fetchlog.Entry{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}
