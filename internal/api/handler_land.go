package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/landwatch/landwatch/internal/store"
)

const landStateCacheTTL = 30 * time.Second

const msgNoStateCached = "There is no state cached for this land."

type cachedBody struct {
	body []byte
	etag string
}

// landStateCache is a short-TTL response cache for the single-land read
// path. Only 200 bodies are cached; misses always re-check the store.
type landStateCache struct {
	cache otter.Cache[int, cachedBody]
}

func newLandStateCache(maxLand int) *landStateCache {
	if maxLand <= 0 {
		maxLand = 1
	}
	cache, err := otter.MustBuilder[int, cachedBody](maxLand).
		Cost(func(_ int, _ cachedBody) uint32 { return 1 }).
		WithTTL(landStateCacheTTL).
		Build()
	if err != nil {
		panic("api: failed to create land state cache: " + err.Error())
	}
	return &landStateCache{cache: cache}
}

// HandleLandState serves GET /land/{n}/state/.
func HandleLandState(st store.Store, maxLand int) http.Handler {
	rc := newLandStateCache(maxLand)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		land, err := strconv.Atoi(r.PathValue("n"))
		if err != nil || land < 1 {
			WriteError(w, http.StatusUnprocessableEntity, "Invalid land number.", r.PathValue("n"))
			return
		}

		if entry, ok := rc.cache.Get(land); ok {
			serveLandBody(w, r, entry)
			return
		}

		snap, err := st.Get(r.Context(), land)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to read the land state.", err.Error())
			return
		}
		if !snap.Live(time.Now()) {
			WriteError(w, http.StatusNotFound, msgNoStateCached, nil)
			return
		}

		body, err := json.Marshal(snap)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to encode the land state.", err.Error())
			return
		}
		entry := cachedBody{
			body: body,
			etag: fmt.Sprintf(`"%016x"`, xxh3.Hash(body)),
		}
		rc.cache.Set(land, entry)
		serveLandBody(w, r, entry)
	})
}

func serveLandBody(w http.ResponseWriter, r *http.Request, entry cachedBody) {
	w.Header().Set("ETag", entry.etag)
	if r.Header.Get("If-None-Match") == entry.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.body)
}

// HandleLandStatesIndex serves GET /land/states/: the list of lands with a
// live snapshot.
func HandleLandStatesIndex(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lands, err := st.Keys(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list cached lands.", err.Error())
			return
		}
		if lands == nil {
			lands = []int{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"totalItems":  len(lands),
			"cachedLands": lands,
		})
	})
}

// HandleLandStatesReadAll serves GET /lands/states/: every live snapshot
// keyed by land number, read from the aggregate view.
func HandleLandStatesReadAll(st store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all, err := st.ReadAll(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to read the land states.", err.Error())
			return
		}
		lands := make(map[string]any, len(all))
		for land, snap := range all {
			lands[strconv.Itoa(land)] = snap
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"totalItems": len(lands),
			"lands":      lands,
		})
	})
}
