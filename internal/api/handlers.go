package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"market_cache/internal/domain"
	"market_cache/internal/engine"
	"market_cache/internal/infra"

	"github.com/gorilla/mux"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	table, err := s.orch.EnsurePrices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	if from == "" && to == "" {
		writeJSON(w, http.StatusOK, newPriceTableView(table))
		return
	}

	// Optional narrowing to one row or one pair
	view := newPriceTableView(table)
	row, ok := view[from]
	if !ok {
		writeError(w, fmt.Errorf("%w: from %q", domain.ErrUnknownPair, from))
		return
	}
	if to == "" {
		writeJSON(w, http.StatusOK, priceTableView{from: row})
		return
	}
	p, ok := row[to]
	if !ok {
		writeError(w, fmt.Errorf("%w: %s/%s", domain.ErrUnknownPair, from, to))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := strings.ToUpper(q.Get("from"))
	to := strings.ToUpper(q.Get("to"))
	if from == "" || to == "" {
		writeError(w, fmt.Errorf("%w: from and to are required", domain.ErrInvalidParam))
		return
	}
	cadence, err := domain.ParseCadence(q.Get("cadence"))
	if err != nil {
		writeError(w, err)
		return
	}

	series, err := s.orch.History(cadence).Get(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryView(from, to, cadence, series))
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit < 1 || limit > maxPageSize {
		writeError(w, fmt.Errorf("%w: limit must be within 1..%d", domain.ErrInvalidParam, maxPageSize))
		return
	}

	page, total, err := s.orch.Pools.Search(q.Get("search"), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolPageView{Total: total, Offset: offset, Limit: limit, Pools: page})
}

func (s *Server) handlePoolLogo(w http.ResponseWriter, r *http.Request) {
	if s.logos == nil {
		writeError(w, fmt.Errorf("%w: logos disabled", domain.ErrNotFound))
		return
	}
	pool, err := s.orch.Pools.Find(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	path, err := s.logos.Fetch(r.Context(), pool.PoolID, pool.Img)
	if err != nil {
		s.logger.Debug("logo unavailable", slog.String("pool", pool.PoolID), slog.Any("error", err))
		writeError(w, fmt.Errorf("%w: logo for %s", domain.ErrNotFound, pool.PoolID))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.Collections.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": newCollectionViews(list)})
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	c, err := s.orch.Collections.Get(mux.Vars(r)["policyId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollectionView(c))
}

type statusView struct {
	Jobs        []engine.JobStatus      `json:"jobs"`
	Metrics     []infra.DatasetSnapshot `json:"metrics"`
	Collections struct {
		Total    int `json:"total"`
		Enriched int `json:"enriched"`
		Cursor   int `json:"cursor"`
	} `json:"collections"`
	StreamClients int                 `json:"streamClients"`
	RecentRuns    []domain.RefreshRun `json:"recentRuns,omitempty"`
	// LastSuccess is the newest successful run per dataset.
	LastSuccess map[string]*domain.RefreshRun `json:"lastSuccess,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var v statusView
	v.Jobs = s.orch.Status()
	v.Metrics = s.metrics.Snapshot()
	v.Collections.Total, v.Collections.Enriched = s.orch.Collections.Stats()
	v.Collections.Cursor = s.orch.Collections.Cursor()
	v.StreamClients = s.hub.Clients()

	if s.runs != nil {
		runs, err := s.runs.Recent(r.URL.Query().Get("dataset"), 20)
		if err != nil {
			s.logger.Warn("failed to read run log", slog.Any("error", err))
		}
		v.RecentRuns = runs

		v.LastSuccess = make(map[string]*domain.RefreshRun, len(v.Jobs))
		for _, j := range v.Jobs {
			run, err := s.runs.LastSuccess(j.Dataset)
			if err != nil {
				s.logger.Warn("failed to read last success", slog.String("dataset", j.Dataset), slog.Any("error", err))
				continue
			}
			if run != nil {
				v.LastSuccess[j.Dataset] = run
			}
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current, _ := s.orch.Prices.Table()
	s.hub.Serve(w, r, current)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", domain.ErrInvalidParam, raw)
	}
	return n, nil
}
