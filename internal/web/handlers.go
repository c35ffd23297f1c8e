package web

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nudgecal/internal/apperr"
	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
	"nudgecal/internal/overlay"
	"nudgecal/internal/prefs"
	"nudgecal/internal/reminder"
)

// eventDTO is one upcoming event with its reminder state.
type eventDTO struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	Title          string     `json:"title"`
	Location       string     `json:"location,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	AllDay         bool       `json:"all_day"`
	HasAttendees   bool       `json:"has_attendees"`
	TimeRange      string     `json:"time_range"`
	Enabled        bool       `json:"enabled"`
	DismissedToday bool       `json:"dismissed_today"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty"`
	NextReminder   *time.Time `json:"next_reminder,omitempty"`
}

type eventsResponse struct {
	Events       []eventDTO    `json:"events"`
	LastRefresh  *time.Time    `json:"last_refresh,omitempty"`
	Presenting   bool          `json:"presenting"`
	CurrentError *apperr.Entry `json:"current_error,omitempty"`
}

type preferencesDTO struct {
	LeadTimeMinutes int                  `json:"lead_time_minutes"`
	DisplayStyle    model.DisplayStyle   `json:"display_style"`
	TimeFormat      model.TimeFormat     `json:"time_format"`
	Overrides       map[string]bool      `json:"reminder_overrides"`
	SnoozeUntil     map[string]time.Time `json:"snooze_until"`
}

// preferencesUpdate is a partial update; nil fields are left alone.
type preferencesUpdate struct {
	LeadTimeMinutes *int                `json:"lead_time_minutes"`
	DisplayStyle    *model.DisplayStyle `json:"display_style"`
	TimeFormat      *model.TimeFormat   `json:"time_format"`
}

type toggleResponse struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

type errorsResponse struct {
	Current *apperr.Entry  `json:"current,omitempty"`
	History []apperr.Entry `json:"history"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	statuses := s.sched.Snapshot()
	format := s.sched.Preferences().TimeFormat

	dtos := make([]eventDTO, 0, len(statuses))
	for _, st := range statuses {
		ev := st.Event
		dtos = append(dtos, eventDTO{
			ID:             ev.ID,
			SourceID:       ev.SourceID,
			Title:          ev.Title,
			Location:       ev.Location,
			Start:          ev.Start,
			End:            ev.End,
			AllDay:         ev.AllDay,
			HasAttendees:   ev.HasAttendees,
			TimeRange:      overlay.FormatRange(ev, format),
			Enabled:        st.Enabled,
			DismissedToday: st.DismissedToday,
			SnoozedUntil:   st.SnoozedUntil,
			NextReminder:   st.NextFire,
		})
	}

	resp := eventsResponse{
		Events:     dtos,
		Presenting: s.sched.IsPresenting(),
	}
	if last := s.sched.LastRefresh(); !last.IsZero() {
		resp.LastRefresh = &last
	}
	if cur, ok := s.sched.Reporter().Current(); ok {
		resp.CurrentError = &cur
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Refresh(r.Context()); err != nil {
		kind, _ := apperr.KindOf(err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Kind: kind})
		return
	}
	s.handleEvents(w, r)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enabled := s.sched.ToggleReminder(id)
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Enabled: enabled})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.sched.SetDismissed(chi.URLParam(r, "id"), true)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUndismiss(w http.ResponseWriter, r *http.Request) {
	s.sched.SetDismissed(chi.URLParam(r, "id"), false)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearSnooze(w http.ResponseWriter, r *http.Request) {
	s.sched.ClearSnooze(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleAction applies an overlay action to an event without an overlay,
// e.g. snoozing from the event list.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var a reminder.Action
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action body")
		return
	}
	if err := s.sched.Apply(chi.URLParam(r, "id"), a); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toPreferencesDTO(s.sched.Preferences()))
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var upd preferencesUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid preferences body")
		return
	}

	if upd.LeadTimeMinutes != nil {
		if err := s.sched.SetLeadTime(*upd.LeadTimeMinutes); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}
	if upd.DisplayStyle != nil || upd.TimeFormat != nil {
		cur := s.sched.Preferences()
		style, format := cur.Style, cur.TimeFormat
		if upd.DisplayStyle != nil {
			style = *upd.DisplayStyle
		}
		if upd.TimeFormat != nil {
			format = *upd.TimeFormat
		}
		if err := s.sched.SetDisplay(style, format); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, toPreferencesDTO(s.sched.Preferences()))
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := prefs.Export(s.sched.Preferences())
	if err != nil {
		appLog.Error("preferences export failed", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="nudgecal-preferences.yaml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	p, err := prefs.Import(data, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sched.ReplacePreferences(p)
	appLog.Info("preferences imported", "lead_time_minutes", p.LeadTimeMinutes, "overrides", len(p.Overrides))
	writeJSON(w, http.StatusOK, toPreferencesDTO(s.sched.Preferences()))
}

func (s *Server) handleErrors(w http.ResponseWriter, _ *http.Request) {
	rep := s.sched.Reporter()
	resp := errorsResponse{History: rep.History()}
	if cur, ok := rep.Current(); ok {
		resp.Current = &cur
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	if s.overlay == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	v, ok := s.overlay.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleOverlayAnswer(w http.ResponseWriter, r *http.Request) {
	if s.overlay == nil {
		writeError(w, http.StatusNotFound, overlay.ErrNoPresentation.Error())
		return
	}
	var a reminder.Action
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action body")
		return
	}
	if err := s.overlay.Respond(chi.URLParam(r, "token"), a); err != nil {
		if !errors.Is(err, overlay.ErrNoPresentation) && !errors.Is(err, reminder.ErrInvalidAction) {
			appLog.Error("overlay answer failed", err)
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func toPreferencesDTO(p *prefs.Preferences) preferencesDTO {
	return preferencesDTO{
		LeadTimeMinutes: p.LeadTimeMinutes,
		DisplayStyle:    p.Style,
		TimeFormat:      p.TimeFormat,
		Overrides:       p.Overrides,
		SnoozeUntil:     p.SnoozeUntil,
	}
}
