package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/havenclimb/coursecup/internal/domain"
	"github.com/havenclimb/coursecup/internal/publisher"
	"github.com/havenclimb/coursecup/internal/scoring"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain sentinel errors to HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	return strconv.ParseInt(req.PathValue(param), 10, 64)
}

// handleGetSeason returns the active season with its summary counts
func (r *Router) handleGetSeason(w http.ResponseWriter, req *http.Request) {
	season, err := r.store.ActiveSeason(req.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	summary, err := r.store.SeasonSummary(req.Context(), season.Number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGetSeasonByNumber returns any season's summary, ended ones included
func (r *Router) handleGetSeasonByNumber(w http.ResponseWriter, req *http.Request) {
	number, err := parseID(req, "number")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid season number")
		return
	}
	summary, err := r.store.SeasonSummary(req.Context(), int(number))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGetStandings returns the ranked standings for a season. Defaults
// to the active season; ?season=N selects an ended one.
func (r *Router) handleGetStandings(w http.ResponseWriter, req *http.Request) {
	var seasonNumber int
	if q := req.URL.Query().Get("season"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid season number")
			return
		}
		seasonNumber = n
	} else {
		season, err := r.store.ActiveSeason(req.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		seasonNumber = season.Number
	}

	season, err := r.store.SeasonByNumber(req.Context(), seasonNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	finishes, err := r.store.SeasonFinishes(req.Context(), seasonNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg, err := r.store.ScoringConfig(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"season":    season,
		"scoring":   cfg,
		"standings": scoring.Rank(finishes, cfg),
	})
}

// handleGetCourses returns the active season's courses
func (r *Router) handleGetCourses(w http.ResponseWriter, req *http.Request) {
	season, err := r.store.ActiveSeason(req.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	courses, err := r.store.CoursesBySeason(req.Context(), season.Number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// handleGetCourseFinishes returns the best-per-player leaderboard for one course
func (r *Router) handleGetCourseFinishes(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	finishes, err := r.store.CourseFinishes(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard": scoring.BestPerCourse(finishes),
		"total_runs":  len(finishes),
	})
}

// handleGetView returns the rendered text of one published view, exactly
// as the publisher would post it
func (r *Router) handleGetView(w http.ResponseWriter, req *http.Request) {
	kind := req.PathValue("kind")
	if !validViewKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown view kind")
		return
	}

	snap, err := r.manager.Snapshot(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap.Season == nil {
		writeError(w, http.StatusNotFound, "no active season")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(publisher.RenderView(kind, snap, r.cfg.Publish.CoursesPerRow)))
}

func validViewKind(kind string) bool {
	for _, k := range domain.ViewKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// handleStartSeason opens a new season
func (r *Router) handleStartSeason(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Number <= 0 {
		writeError(w, http.StatusBadRequest, "season number must be positive")
		return
	}

	season, err := r.manager.StartSeason(req.Context(), body.Number, body.Title)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, season)
}

// handleBeginEndSeason issues a confirmation token for ending the season
func (r *Router) handleBeginEndSeason(w http.ResponseWriter, req *http.Request) {
	token, season, err := r.manager.BeginEndSeason(req.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"confirm_token": token,
		"season":        season,
	})
}

// handleConfirmEndSeason ends the season given a valid confirmation token
func (r *Router) handleConfirmEndSeason(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ConfirmToken string `json:"confirm_token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	season, err := r.manager.ConfirmEndSeason(req.Context(), body.ConfirmToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, season)
}

// handleAddCourse registers a course in the active season
func (r *Router) handleAddCourse(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FullName  string `json:"full_name"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FullName == "" {
		writeError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	var expiry *time.Time
	if body.ExpiresAt > 0 {
		t := time.Unix(body.ExpiresAt, 0).UTC()
		expiry = &t
	}

	course, err := r.manager.AddCourse(req.Context(), body.FullName, expiry)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

// handleExpireCourse closes a course ahead of its expiry
func (r *Router) handleExpireCourse(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FullName string `json:"full_name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FullName == "" {
		writeError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	course, err := r.manager.ExpireCourse(req.Context(), body.FullName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// handleSetScoring updates a scoring parameter
func (r *Router) handleSetScoring(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Value int    `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := r.manager.SetScoringValue(req.Context(), body.Key, body.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSetViewToggle enables or disables one published view
func (r *Router) handleSetViewToggle(w http.ResponseWriter, req *http.Request) {
	kind := req.PathValue("kind")

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := r.manager.SetViewToggle(req.Context(), kind, body.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"kind": kind, "enabled": body.Enabled})
}

// handleDiagnostics returns the ingest cursor, active season counts,
// parse counters, and recent skipped lines
func (r *Router) handleDiagnostics(w http.ResponseWriter, req *http.Request) {
	diag, err := r.manager.Diagnostics(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

// handleHealth returns service health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": r.wsHub.ClientCount(),
	})
}
