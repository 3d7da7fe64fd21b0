package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"watchdata/internal/dashboard"
)

// overviewGroup collapses identical concurrent overview requests into one
// set of storage reads.
type overviewGroup struct {
	svc   *dashboard.Service
	group singleflight.Group
}

func newOverviewGroup(svc *dashboard.Service) *overviewGroup {
	return &overviewGroup{svc: svc}
}

func (g *overviewGroup) get(ctx context.Context, rng dashboard.Range, compare bool) (*dashboard.Overview, error) {
	key := rng.From + "|" + rng.To + "|" + strconv.FormatBool(compare)
	v, err, _ := g.group.Do(key, func() (any, error) {
		return g.svc.Overview(context.WithoutCancel(ctx), rng, compare)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dashboard.Overview), nil
}

// parseCompare treats anything but an explicit false as true.
func parseCompare(s string) bool {
	if s == "" {
		return true
	}
	b, err := strconv.ParseBool(s)
	return err != nil || b
}

func handleOverview(g *overviewGroup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng := dashboard.ParseRange(q.Get("from"), q.Get("to"), time.Now())

		ov, err := g.get(r.Context(), rng, parseCompare(q.Get("compare")))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}

// handleSeries serves /api/metrics/{metric}?from=&to=&compare=&window=.
// A malformed window falls back to the configured default.
func handleSeries(svc *dashboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rng := dashboard.ParseRange(q.Get("from"), q.Get("to"), time.Now())

		window, err := strconv.Atoi(q.Get("window"))
		if err != nil || window < 1 {
			window = svc.Window()
		}

		s, err := svc.Series(r.Context(), r.PathValue("metric"), rng, parseCompare(q.Get("compare")), window)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
