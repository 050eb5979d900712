package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"dropin/internal/model"
	"dropin/internal/query"
)

// MaxPerPage bounds the per_page parameter.
const MaxPerPage = 500

// Engine is the read side the handlers need. *query.Engine satisfies it.
type Engine interface {
	Query(ctx context.Context, req query.Request) ([]model.ScheduleRow, error)
	Options(ctx context.Context) (query.FilterOptions, error)
	Ping(ctx context.Context) error
}

type handlers struct {
	engine  Engine
	logger  *zap.SugaredLogger
	results *cache.Cache
	now     func() time.Time
	started time.Time
}

// ScheduleData is the payload of GET /api/schedule.
type ScheduleData struct {
	Start string `json:"start"`
	End   string `json:"end"`
	query.Page
}

// HealthData is the payload of GET /healthz.
type HealthData struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

func (h *handlers) schedule(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	req, page, perPage, err := parseSchedule(values, h.now())
	if err != nil {
		respondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.search(r.Context(), req)
	switch {
	case errors.Is(err, query.ErrMalformedRequest):
		respondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Errorw("schedule query failed", "request_id", RequestID(r.Context()), "error", err)
		respondWithError(w, r, http.StatusInternalServerError, "query failed")
		return
	}

	data := ScheduleData{Start: req.StartDate, End: req.EndDate, Page: query.Paginate(rows, page, perPage)}
	respondWithSuccess(w, r, http.StatusOK, &data)
}

// search answers req from the result cache when possible. Pagination happens
// after the cache so every page of one request shares an entry.
func (h *handlers) search(ctx context.Context, req query.Request) ([]model.ScheduleRow, error) {
	if h.results == nil {
		return h.engine.Query(ctx, req)
	}
	key := cacheKey(req)
	if v, ok := h.results.Get(key); ok {
		return v.([]model.ScheduleRow), nil
	}
	rows, err := h.engine.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	h.results.SetDefault(key, rows)
	return rows, nil
}

func (h *handlers) filters(w http.ResponseWriter, r *http.Request) {
	opts, err := h.engine.Options(r.Context())
	if err != nil {
		h.logger.Errorw("filter options failed", "request_id", RequestID(r.Context()), "error", err)
		respondWithError(w, r, http.StatusInternalServerError, "filter options unavailable")
		return
	}
	respondWithSuccess(w, r, http.StatusOK, &opts)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	data := HealthData{
		Status: "ok",
		Uptime: h.now().Sub(h.started).Round(time.Second).String(),
	}
	code := http.StatusOK
	if err := h.engine.Ping(r.Context()); err != nil {
		data.Status = "down"
		data.Error = err.Error()
		code = http.StatusServiceUnavailable
	}
	respondWithSuccess(w, r, code, &data)
}

// parseSchedule maps query parameters onto a query.Request. Missing dates
// default to the current week; any window is clamped to MaxWindowDays.
func parseSchedule(v url.Values, now time.Time) (req query.Request, page, perPage int, err error) {
	start, end := v.Get("start"), v.Get("end")
	defStart, _ := query.DefaultWindow(now)
	if start == "" {
		start = defStart
	}
	if end == "" {
		s, perr := time.Parse(query.DateLayout, start)
		if perr != nil {
			return req, 0, 0, fmt.Errorf("start: want YYYY-MM-DD, got %q", start)
		}
		end = s.AddDate(0, 0, query.MaxWindowDays).Format(query.DateLayout)
	}
	if start, end, err = query.ClampWindow(start, end, query.MaxWindowDays); err != nil {
		return req, 0, 0, err
	}

	req = query.Request{
		StartDate: start,
		EndDate:   end,
		Sports:    nonEmpty(v["sport"]),
		Days:      nonEmpty(v["day"]),
		Locations: nonEmpty(v["location"]),
		TimeOfDay: query.Bucket(strings.ToLower(v.Get("time"))),
		Search:    v.Get("q"),
		Sort:      query.SortKey(v.Get("sort")),
	}
	if _, _, ok := req.TimeOfDay.Hours(); !ok && req.TimeOfDay != query.AnyTime {
		return req, 0, 0, fmt.Errorf("time: unknown bucket %q", req.TimeOfDay)
	}

	switch strings.ToLower(v.Get("dir")) {
	case "", "asc":
	case "desc":
		req.Desc = true
	default:
		return req, 0, 0, fmt.Errorf("dir: want asc or desc, got %q", v.Get("dir"))
	}

	if page, err = intParam(v, "page", 1); err != nil {
		return req, 0, 0, err
	}
	if perPage, err = intParam(v, "per_page", query.DefaultPerPage); err != nil {
		return req, 0, 0, err
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return req, page, perPage, nil
}

func intParam(v url.Values, name string, def int) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", name, raw)
	}
	return n, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cacheKey is insensitive to the order of multi-valued parameters.
func cacheKey(req query.Request) string {
	set := func(in []string) string {
		c := append([]string(nil), in...)
		sort.Strings(c)
		return strings.Join(c, "\x1f")
	}
	return strings.Join([]string{
		req.StartDate, req.EndDate,
		set(req.Sports), set(req.Days), set(req.Locations),
		string(req.TimeOfDay), req.Search, string(req.Sort), strconv.FormatBool(req.Desc),
	}, "\x1e")
}
