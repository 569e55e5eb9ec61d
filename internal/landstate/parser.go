package landstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedState reports a raw blob missing a required key or carrying an
// ill-typed value. Wrapped errors add the offending field.
var ErrMalformedState = errors.New("malformed land state")

// Entity prefixes, checked in order; the first match decides the kind and
// anything unmatched is discarded.
const (
	prefixTree     = "ent_tree"
	prefixWindmill = "ent_windmill"
	prefixWinery   = "ent_winery"
	prefixGrill    = "ent_landbbq"
	prefixKiln     = "ent_kiln"
)

// Parse converts a raw land-state blob into its typed form.
// Required keys are permissions.use (non-empty), entities and nft.tokenId;
// anything else decodes with defaults.
func Parse(raw []byte) (*ParsedLandState, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return parseDoc(doc)
}

func parseDoc(doc map[string]any) (*ParsedLandState, error) {
	perms, ok := asMap(doc["permissions"])
	if !ok {
		return nil, fmt.Errorf("%w: permissions missing", ErrMalformedState)
	}
	use, ok := asSlice(perms["use"])
	if !ok || len(use) == 0 {
		return nil, fmt.Errorf("%w: permissions.use missing or empty", ErrMalformedState)
	}
	firstUse, ok := asString(use[0])
	if !ok {
		return nil, fmt.Errorf("%w: permissions.use[0] not a string", ErrMalformedState)
	}

	nft, ok := asMap(doc["nft"])
	if !ok {
		return nil, fmt.Errorf("%w: nft missing", ErrMalformedState)
	}
	tokenID, ok := intValue(nft["tokenId"])
	if !ok {
		return nil, fmt.Errorf("%w: nft.tokenId not an integer", ErrMalformedState)
	}

	entities, ok := asMap(doc["entities"])
	if !ok {
		return nil, fmt.Errorf("%w: entities missing", ErrMalformedState)
	}

	players, _ := asSlice(doc["players"])

	parsed := &ParsedLandState{
		LandNumber:   int(tokenID),
		IsBlocked:    firstUse != "ANY",
		TotalPlayers: len(players),
		Trees:        []ParsedTree{},
		Windmills:    []ParsedIndustry{},
		Wineries:     []ParsedIndustry{},
		Grills:       []ParsedIndustry{},
		Kilns:        []ParsedIndustry{},
	}

	for _, v := range entities {
		ent, ok := asMap(v)
		if !ok {
			continue
		}
		kind, ok := asString(ent["entity"])
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(kind, prefixTree):
			parsed.Trees = append(parsed.Trees, parseTree(ent))
		case strings.HasPrefix(kind, prefixWindmill):
			parsed.Windmills = append(parsed.Windmills, parseIndustry(ent))
		case strings.HasPrefix(kind, prefixWinery):
			parsed.Wineries = append(parsed.Wineries, parseIndustry(ent))
		case strings.HasPrefix(kind, prefixGrill):
			parsed.Grills = append(parsed.Grills, parseIndustry(ent))
		case strings.HasPrefix(kind, prefixKiln):
			parsed.Kilns = append(parsed.Kilns, parseIndustry(ent))
		}
	}

	return parsed, nil
}

func parseTree(ent map[string]any) ParsedTree {
	generic, _ := asMap(ent["generic"])
	statics := staticsMap(generic)

	tree := ParsedTree{
		MID:      stringValue(ent["mid"]),
		Entity:   stringValue(ent["entity"]),
		Position: parsePosition(ent["position"]),
		State:    stringValue(generic["state"]),
		Chops:    int(staticInt(statics, "chops", 0)),
		Current:  int(staticInt(statics, "current", 4)),
	}
	if ms, ok := intValue(generic["utcRefresh"]); ok {
		tree.UTCRefresh = FromUnixMilli(ms)
	}
	tree.LastTimer = FromUnixMilli(staticInt(statics, "lastTimer", 0))
	tree.LastChop = FromUnixMilli(staticInt(statics, "lastChop", 0))
	return tree
}

func parseIndustry(ent map[string]any) ParsedIndustry {
	generic, _ := asMap(ent["generic"])
	statics := staticsMap(generic)

	return ParsedIndustry{
		MID:         stringValue(ent["mid"]),
		Entity:      stringValue(ent["entity"]),
		Position:    parsePosition(ent["position"]),
		State:       stringValue(generic["state"]),
		AllowPublic: staticInt(statics, "allowPublic", 0) != 0,
		InUseBy:     stringValue(statics["inUseBy"]),
		FinishTime:  FromUnixMilli(staticInt(statics, "finishTime", 0)),
		FiredUntil:  FromUnixMilli(staticInt(statics, "firedUntil", 0)),
	}
}

// staticsMap flattens generic.statics, a sequence of {name, value} pairs,
// into a name-keyed map. Later duplicates win, matching the source data.
func staticsMap(generic map[string]any) map[string]any {
	out := map[string]any{}
	seq, ok := asSlice(generic["statics"])
	if !ok {
		return out
	}
	for _, item := range seq {
		pair, ok := asMap(item)
		if !ok {
			continue
		}
		name, ok := asString(pair["name"])
		if !ok {
			continue
		}
		out[name] = pair["value"]
	}
	return out
}

func parsePosition(v any) Position {
	m, ok := asMap(v)
	if !ok {
		return Position{}
	}
	x, _ := intValue(m["x"])
	y, _ := intValue(m["y"])
	return Position{X: int(x), Y: int(y)}
}

// staticInt reads a numeric static by name. Statics arrive as strings or
// numbers depending on the game build; missing or unparseable values fall
// back to def.
func staticInt(statics map[string]any, name string, def int64) int64 {
	v, ok := statics[name]
	if !ok || v == nil {
		return def
	}
	n, ok := intValue(v)
	if !ok {
		return def
	}
	return n
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// stringValue renders a value as a string, tolerating numeric ids.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return ""
	}
}

// intValue coerces a JSON number or numeric string to int64.
func intValue(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
