package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/landwatch/landwatch/internal/landstate"
)

// Announcement window relative to now: resources becoming available between
// these bounds are worth posting. The lower bound is negative so a resource
// that just became available still makes the cut.
const (
	WindowLowerBound = -120 * time.Second
	WindowUpperBound = 180 * time.Second
)

// Messages holds the formatted channel posts for one land, split by the
// channel they belong to. An empty string means nothing to post.
type Messages struct {
	Trees      string
	Industries string
}

// FilterResources returns a copy of the parsed state keeping only resources
// whose availability falls inside (lb, hb) around now, sorted soonest first.
// A resource without a timer counts as available right now. Trees below full
// growth are dropped regardless of timer.
func FilterResources(p *landstate.ParsedLandState, now time.Time, lb, hb time.Duration) *landstate.ParsedLandState {
	inWindow := func(ts landstate.Timestamp) bool {
		at := ts.Time
		if ts.IsZero() {
			at = now
		}
		delta := at.Sub(now)
		return lb < delta && delta < hb
	}

	var trees []landstate.ParsedTree
	for _, tr := range p.Trees {
		if tr.Current >= 4 && inWindow(tr.UTCRefresh) {
			trees = append(trees, tr)
		}
	}
	sort.SliceStable(trees, func(i, j int) bool {
		return treeTime(trees[i], now).Before(treeTime(trees[j], now))
	})

	filterIndustries := func(in []landstate.ParsedIndustry) []landstate.ParsedIndustry {
		var out []landstate.ParsedIndustry
		for _, ind := range in {
			if inWindow(ind.FinishTime) {
				out = append(out, ind)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return industryTime(out[i], now).Before(industryTime(out[j], now))
		})
		return out
	}

	out := *p
	out.Trees = trees
	out.Grills = filterIndustries(p.Grills)
	out.Kilns = filterIndustries(p.Kilns)
	out.Windmills = filterIndustries(p.Windmills)
	out.Wineries = filterIndustries(p.Wineries)
	return &out
}

// FormatResources renders the filtered state into channel messages, one line
// per resource.
func FormatResources(p *landstate.ParsedLandState) Messages {
	var trees []string
	for _, tr := range p.Trees {
		desc := fmt.Sprintf("🌲 Tree [**%s**]", tr.State)
		trees = append(trees, resourceLine(p.LandNumber, desc, tr.UTCRefresh))
	}

	var industries []string
	addIndustries := func(in []landstate.ParsedIndustry, desc string) {
		for _, ind := range in {
			industries = append(industries, resourceLine(p.LandNumber, desc, ind.FinishTime))
		}
	}
	addIndustries(p.Grills, "🍖 Grill")
	addIndustries(p.Windmills, "🌀 WindMill")
	addIndustries(p.Wineries, "🍇 Winery")
	addIndustries(p.Kilns, "🪨 Kiln")

	return Messages{
		Trees:      strings.Join(trees, "\n"),
		Industries: strings.Join(industries, "\n"),
	}
}

func resourceLine(land int, desc string, at landstate.Timestamp) string {
	availability := "**Available**"
	if !at.IsZero() {
		availability = fmt.Sprintf("<t:%d:R>", at.Unix())
	}
	return fmt.Sprintf("**#%d** %s %s", land, desc, availability)
}

func treeTime(tr landstate.ParsedTree, now time.Time) time.Time {
	if tr.UTCRefresh.IsZero() {
		return now
	}
	return tr.UTCRefresh.Time
}

func industryTime(ind landstate.ParsedIndustry, now time.Time) time.Time {
	if ind.FinishTime.IsZero() {
		return now
	}
	return ind.FinishTime.Time
}
