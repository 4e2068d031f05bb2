package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/activetime"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/audit"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cache"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/chart"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/clock"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/entropy"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"time":           s.db.Now().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

// =============================================================================
// Authentication Handlers
// =============================================================================

type registerRequest struct {
	HouseholdID string `json:"household_id"`
	Name        string `json:"name"`
	Passphrase  string `json:"passphrase"`
}

type registerResponse struct {
	Household   household.Household `json:"household"`
	AccessToken string              `json:"access_token,omitempty"`
	TokenType   string              `json:"token_type,omitempty"`
}

// handleRegister creates a household with a passphrase and returns a token
// for it. The household is removed again if the passphrase is rejected.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	ctx := r.Context()
	h, err := s.db.Create(ctx, req.HouseholdID, req.Name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	now := s.db.Now()
	if err := s.auth.Register(ctx, h.ID, req.Passphrase, now); err != nil {
		if derr := s.db.Delete(ctx, h.ID); derr != nil {
			s.log.Error("rolling back household", "household", h.ID, "error", derr)
		}
		s.writeFailure(w, r, err)
		return
	}

	resp := registerResponse{Household: h}
	if s.auth.IsSecurityEnabled() {
		token, err := s.auth.IssueToken(h.ID, now)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		resp.AccessToken, resp.TokenType = token, "Bearer"
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

type tokenRequest struct {
	HouseholdID string `json:"household_id"`
	Passphrase  string `json:"passphrase"`
	GrantType   string `json:"grant_type"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	// Support OAuth 2.0 password grant
	if req.GrantType != "" && req.GrantType != "password" {
		s.writeError(w, http.StatusBadRequest, "unsupported grant_type")
		return
	}

	now := s.db.Now()
	resp, err := s.auth.Authenticate(r.Context(), req.HouseholdID, req.Passphrase, now)
	s.metrics.observeLogin(err == nil)
	if err != nil {
		s.journalAuth(audit.EventLoginFailed, req.HouseholdID, now, false, err.Error())
		s.writeFailure(w, r, err)
		return
	}
	s.journalAuth(audit.EventLogin, req.HouseholdID, now, true, "")
	s.writeJSON(w, http.StatusOK, resp)
}

type passphraseRequest struct {
	Old string `json:"old_passphrase"`
	New string `json:"new_passphrase"`
}

func (s *Server) handleChangePassphrase(w http.ResponseWriter, r *http.Request) {
	var req passphraseRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	id, now := householdID(r), s.db.Now()
	if err := s.auth.ChangePassphrase(r.Context(), id, req.Old, req.New, now); err != nil {
		s.journalAuth(audit.EventPassphraseChange, id, now, false, err.Error())
		s.writeFailure(w, r, err)
		return
	}
	s.journalAuth(audit.EventPassphraseChange, id, now, true, "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) journalAuth(t audit.EventType, id string, at time.Time, success bool, reason string) {
	if err := s.db.Journal().LogAuth(t, id, at, success, reason); err != nil {
		s.log.Warn("journal write failed", "type", t, "error", err)
	}
}

// =============================================================================
// Household Handlers
// =============================================================================

func (s *Server) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	h, err := s.db.Get(r.Context(), householdID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeleteHousehold(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Delete(r.Context(), householdID(r)); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view, err := s.db.View(r.Context(), householdID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type settingsRequest struct {
	Members int `json:"members"`
	Pets    int `json:"pets"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	h, err := s.db.SetOccupants(r.Context(), householdID(r), req.Members, req.Pets)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	h, err := s.db.FactoryReset(r.Context(), householdID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

// =============================================================================
// Water Handlers
// =============================================================================

type refillResponse struct {
	Report cycle.Report        `json:"report"`
	Water  household.WaterView `json:"water"`
}

func (s *Server) handleRefill(w http.ResponseWriter, r *http.Request) {
	id := householdID(r)
	_, report, err := s.db.Refill(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.metrics.observeReset(report)
	s.writeWater(w, r, id, func(view household.WaterView) any {
		return refillResponse{Report: report, Water: view}
	})
}

type calibrateRequest struct {
	Level *float64 `json:"level"`
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req calibrateRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if req.Level == nil {
		s.writeError(w, http.StatusBadRequest, "level is required")
		return
	}
	id := householdID(r)
	if _, err := s.db.Calibrate(r.Context(), id, *req.Level); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeWater(w, r, id, nil)
}

type waterConfigRequest struct {
	Capacity float64 `json:"capacity"`
}

func (s *Server) handleWaterConfig(w http.ResponseWriter, r *http.Request) {
	var req waterConfigRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	id := householdID(r)
	if _, err := s.db.ConfigureWater(r.Context(), id, req.Capacity); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeWater(w, r, id, nil)
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	var req activetime.Window
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	id := householdID(r)
	if _, err := s.db.SetSleepWindow(r.Context(), id, req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeWater(w, r, id, nil)
}

// writeWater responds with the current water view, optionally wrapped.
func (s *Server) writeWater(w http.ResponseWriter, r *http.Request, id string, wrap func(household.WaterView) any) {
	view, err := s.db.View(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if wrap == nil {
		s.writeJSON(w, http.StatusOK, view.Water)
		return
	}
	s.writeJSON(w, http.StatusOK, wrap(view.Water))
}

// =============================================================================
// Task Handlers
// =============================================================================

type taskRequest struct {
	Domain         entropy.Domain `json:"domain"`
	Name           string         `json:"name"`
	Area           string         `json:"area"`
	ThresholdHours float64        `json:"threshold_hours"`
	Shared         bool           `json:"shared"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	task, err := s.db.AddTask(r.Context(), householdID(r), req.Domain, household.Task{
		Name:           req.Name,
		Area:           req.Area,
		ThresholdHours: req.ThresholdHours,
		Shared:         req.Shared,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.db.CompleteTask(r.Context(), householdID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	if err := s.db.RemoveTask(r.Context(), householdID(r), mux.Vars(r)["id"]); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Inventory Handlers
// =============================================================================

type itemRequest struct {
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`
	LowStock float64 `json:"low_stock"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	item, err := s.db.AddItem(r.Context(), householdID(r), req.Name, req.Unit, req.Quantity, req.LowStock)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

type adjustRequest struct {
	Delta float64 `json:"delta"`
	Note  string  `json:"note"`
}

func (s *Server) handleAdjustItem(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	item, err := s.db.AdjustItem(r.Context(), householdID(r), mux.Vars(r)["id"], req.Delta, req.Note)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

type stocktakeRequest struct {
	Quantity *float64 `json:"quantity"`
	Note     string   `json:"note"`
}

func (s *Server) handleCountItem(w http.ResponseWriter, r *http.Request) {
	var req stocktakeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if req.Quantity == nil {
		s.writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	item, err := s.db.CountItem(r.Context(), householdID(r), mux.Vars(r)["id"], *req.Quantity, req.Note)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := s.db.RemoveItem(r.Context(), householdID(r), mux.Vars(r)["id"]); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Trend and Chart Handlers
// =============================================================================

func (s *Server) handleWaterTrend(w http.ResponseWriter, r *http.Request) {
	points, err := s.db.WaterTrend(r.Context(), householdID(r), parseIntQuery(r, "days", 0))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleItemTrend(w http.ResponseWriter, r *http.Request) {
	points, err := s.db.InventoryTrend(r.Context(), householdID(r), mux.Vars(r)["id"], parseIntQuery(r, "days", 0))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleWaterChart(w http.ResponseWriter, r *http.Request) {
	id := householdID(r)
	days := parseIntQuery(r, "days", 0)
	s.serveChart(w, r, []string{"water", id, strconv.Itoa(days)}, func(opts chart.Options) ([]byte, error) {
		points, err := s.db.WaterTrend(r.Context(), id, days)
		if err != nil {
			return nil, err
		}
		opts.Title, opts.Unit = "Water used per day", "L"
		return chart.RenderWater(points, opts)
	})
}

func (s *Server) handleItemChart(w http.ResponseWriter, r *http.Request) {
	id, itemID := householdID(r), mux.Vars(r)["id"]
	days := parseIntQuery(r, "days", 0)
	s.serveChart(w, r, []string{"item", id, itemID, strconv.Itoa(days)}, func(opts chart.Options) ([]byte, error) {
		h, err := s.db.Get(r.Context(), id)
		if err != nil {
			return nil, err
		}
		item, err := h.Item(itemID)
		if err != nil {
			return nil, err
		}
		points, err := s.db.InventoryTrend(r.Context(), id, itemID, days)
		if err != nil {
			return nil, err
		}
		opts.Title, opts.Unit = item.Name, item.Unit
		return chart.RenderSteps(points, opts)
	})
}

// serveChart renders through the chart cache. The key includes the
// household's last change and the current virtual minute, so a cached image
// is never older than one minute of virtual time.
func (s *Server) serveChart(w http.ResponseWriter, r *http.Request, key []string, render func(chart.Options) ([]byte, error)) {
	h, err := s.db.Get(r.Context(), householdID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	opts := chart.Options{
		Width:  parseIntQuery(r, "width", 0),
		Height: parseIntQuery(r, "height", 0),
	}
	key = append(key,
		h.UpdatedAt.UTC().Format(time.RFC3339Nano),
		s.db.Now().Truncate(time.Minute).UTC().Format(time.RFC3339),
		strconv.Itoa(opts.Width), strconv.Itoa(opts.Height))
	k := cache.Key(key...)

	png, ok := s.charts.Get(k)
	if !ok {
		png, err = render(opts)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.charts.Put(k, png)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.log.Debug("writing chart", "error", err)
	}
}

// =============================================================================
// Activity and Clock Handlers
// =============================================================================

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	res, err := s.db.Activity(householdID(r), parseIntQuery(r, "limit", 50))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type clockResponse struct {
	Now    time.Time `json:"now"`
	NowMS  int64     `json:"now_ms"`
	Offset string    `json:"offset"`
}

func (s *Server) writeClock(w http.ResponseWriter) {
	now := s.db.Now()
	s.writeJSON(w, http.StatusOK, clockResponse{Now: now, NowMS: clock.ToMillis(now), Offset: s.db.Clock().Offset.String()})
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	s.writeClock(w)
}

type advanceRequest struct {
	// Duration in time.ParseDuration form, e.g. "36h".
	Duration string `json:"duration"`
}

func (s *Server) handleClockAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}
	s.db.AdvanceClock(d)
	s.writeClock(w)
}

func (s *Server) handleClockReset(w http.ResponseWriter, r *http.Request) {
	s.db.ResetClock()
	s.writeClock(w)
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || val <= 0 {
		return defaultVal
	}
	return val
}
