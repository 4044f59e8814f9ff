package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ni-heemang/chat-flow/internal/analysis"
	"github.com/ni-heemang/chat-flow/internal/cache"
)

// defaultStatCacheTTL is how long derived stat payloads stay cached between
// invalidations.
const defaultStatCacheTTL = 30 * time.Second

// validRecordTypes guards the history endpoint's type filter.
var validRecordTypes = map[string]bool{
	analysis.RecordKeywordFrequency:    true,
	analysis.RecordTimePattern:         true,
	analysis.RecordUserParticipation:   true,
	analysis.RecordEmotionAnalysis:     true,
	analysis.RecordTopicClassification: true,
}

// AnalysisHandlers holds dependencies for the analysis query endpoints.
type AnalysisHandlers struct {
	aggregator *analysis.Aggregator
	records    analysis.RecordStore
	statCache  cache.Cache
	scheduler  *analysis.Scheduler
	cacheTTL   time.Duration
}

// NewAnalysisHandlers creates a new AnalysisHandlers instance.
func NewAnalysisHandlers(
	aggregator *analysis.Aggregator,
	records analysis.RecordStore,
	statCache cache.Cache,
	scheduler *analysis.Scheduler,
) *AnalysisHandlers {
	return &AnalysisHandlers{
		aggregator: aggregator,
		records:    records,
		statCache:  statCache,
		scheduler:  scheduler,
		cacheTTL:   defaultStatCacheTTL,
	}
}

// RoomSubtree dispatches /api/analysis/rooms/{id} and its subresources.
func (h *AnalysisHandlers) RoomSubtree(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/analysis/rooms/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Room ID is required")
		return
	}

	roomID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Room ID must be an integer")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
			return
		}
		h.clearStats(w, r, roomID)
		return
	}

	if len(parts) != 2 {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
		return
	}

	switch parts[1] {
	case "keywords", "participation", "hourly", "summary":
		if r.Method != http.MethodGet {
			WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
			return
		}
		h.stats(w, r, roomID, parts[1])
	case "history":
		if r.Method != http.MethodGet {
			WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
			return
		}
		h.history(w, r, roomID)
	case "rebuild":
		if r.Method != http.MethodPost {
			WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
			return
		}
		h.rebuild(w, r, roomID)
	default:
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	}
}

// stats serves the derived chart payloads. Without a days parameter the
// responses come from the cache; with days they are computed from a
// throwaway window replay, bypassing the cache and leaving the room's live
// aggregates untouched.
func (h *AnalysisHandlers) stats(w http.ResponseWriter, r *http.Request, roomID int64, kind string) {
	days, ok := h.parseDays(w, r)
	if !ok {
		return
	}

	if days > 0 {
		snapshot, err := h.aggregator.WindowSnapshot(r.Context(), roomID, days)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to compute windowed stats", "error", err, "room_id", roomID, "days", days)
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to compute stats")
			return
		}
		payload, err := h.renderStats(snapshot, roomID, kind)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to build stats", "error", err, "room_id", roomID)
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to build stats")
			return
		}
		writeRawJSON(w, r, payload)
		return
	}

	key := h.cacheKey(roomID, kind)
	if key == "" {
		// Summary has no cache key of its own; it is assembled fresh.
		payload, err := h.buildStats(roomID, kind)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to build stats", "error", err, "room_id", roomID)
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to build stats")
			return
		}
		writeRawJSON(w, r, payload)
		return
	}

	payload, err := h.statCache.GetOrCompute(r.Context(), key, h.cacheTTL, func(ctx context.Context) ([]byte, error) {
		return h.buildStats(roomID, kind)
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load stats", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load stats")
		return
	}
	writeRawJSON(w, r, payload)
}

func (h *AnalysisHandlers) cacheKey(roomID int64, kind string) string {
	switch kind {
	case "keywords":
		return cache.KeywordKey(roomID)
	case "participation":
		return cache.ParticipationKey(roomID)
	case "hourly":
		return cache.HourlyKey(roomID)
	default:
		return ""
	}
}

func (h *AnalysisHandlers) buildStats(roomID int64, kind string) ([]byte, error) {
	return h.renderStats(h.aggregator.Snapshot(roomID), roomID, kind)
}

func (h *AnalysisHandlers) renderStats(snapshot *analysis.RoomSnapshot, roomID int64, kind string) ([]byte, error) {
	switch kind {
	case "keywords":
		return json.Marshal(analysis.BuildKeywordAnalysis(snapshot))
	case "participation":
		return json.Marshal(analysis.BuildParticipationAnalysis(snapshot))
	case "hourly":
		return json.Marshal(analysis.BuildHourlyAnalysis(snapshot))
	default:
		return json.Marshal(analysis.AnalysisData{
			Type:           analysis.PushFullUpdate,
			RoomID:         roomID,
			Timestamp:      time.Now(),
			Keywords:       analysis.BuildKeywordAnalysis(snapshot),
			Participation:  analysis.BuildParticipationAnalysis(snapshot),
			HourlyActivity: analysis.BuildHourlyAnalysis(snapshot),
		})
	}
}

func (h *AnalysisHandlers) parseDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 || days > 365 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "days must be an integer between 1 and 365")
		return 0, false
	}
	return days, true
}

// historyResponse wraps a page of analysis records.
type historyResponse struct {
	Items []*analysis.Record `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
}

func (h *AnalysisHandlers) history(w http.ResponseWriter, r *http.Request, roomID int64) {
	query := r.URL.Query()
	filter := analysis.HistoryFilter{}

	if t := query.Get("type"); t != "" {
		if !validRecordTypes[t] {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Unknown analysis type")
			return
		}
		filter.Type = t
	}
	if from := query.Get("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "from must be RFC3339")
			return
		}
		filter.From = parsed
	}
	if to := query.Get("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "to must be RFC3339")
			return
		}
		filter.To = parsed
	}
	if page := query.Get("page"); page != "" {
		parsed, err := strconv.Atoi(page)
		if err != nil || parsed < 0 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "page must be a non-negative integer")
			return
		}
		filter.Page = parsed
	}
	if size := query.Get("size"); size != "" {
		parsed, err := strconv.Atoi(size)
		if err != nil || parsed <= 0 || parsed > 100 {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "size must be between 1 and 100")
			return
		}
		filter.Size = parsed
	}

	items, total, err := h.records.History(r.Context(), roomID, filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load analysis history", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to load analysis history")
		return
	}

	size := filter.Size
	if size == 0 {
		size = analysis.DefaultHistoryPageSize
	}
	WriteJSON(w, r.Context(), http.StatusOK, historyResponse{
		Items: items,
		Total: total,
		Page:  filter.Page,
		Size:  size,
	})
}

// rebuildRequest is the optional body for POST rebuild endpoints.
type rebuildRequest struct {
	Days int `json:"days"`
}

func (h *AnalysisHandlers) rebuild(w http.ResponseWriter, r *http.Request, roomID int64) {
	var req rebuildRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
			return
		}
	}
	if req.Days < 0 || req.Days > 365 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "days must be between 0 and 365")
		return
	}

	if err := h.aggregator.Rebuild(r.Context(), roomID, req.Days); err != nil {
		slog.ErrorContext(r.Context(), "failed to rebuild stats", "error", err, "room_id", roomID)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to rebuild stats")
		return
	}
	if err := h.statCache.Invalidate(r.Context(), cache.RoomKeys(roomID)...); err != nil {
		slog.WarnContext(r.Context(), "failed to invalidate stat cache", "error", err, "room_id", roomID)
	}

	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"roomId": roomID, "rebuilt": true})
}

// RebuildAll handles POST /api/analysis/rebuild-all, replaying history for
// every room with messages.
func (h *AnalysisHandlers) RebuildAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req rebuildRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
			return
		}
	}
	if req.Days < 0 || req.Days > 365 {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "days must be between 0 and 365")
		return
	}

	since := time.Time{}
	if req.Days > 0 {
		since = time.Now().AddDate(0, 0, -req.Days)
	}
	roomIDs, err := h.aggregator.RebuildAll(r.Context(), since, req.Days)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to rebuild all stats", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to rebuild stats")
		return
	}
	for _, id := range roomIDs {
		if err := h.statCache.Invalidate(r.Context(), cache.RoomKeys(id)...); err != nil {
			slog.WarnContext(r.Context(), "failed to invalidate stat cache", "error", err, "room_id", id)
		}
	}

	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"rooms": roomIDs, "count": len(roomIDs)})
}

func (h *AnalysisHandlers) clearStats(w http.ResponseWriter, r *http.Request, roomID int64) {
	h.aggregator.Clear(roomID)
	if h.scheduler != nil {
		h.scheduler.Forget(roomID)
	}
	if err := h.statCache.Invalidate(r.Context(), cache.RoomKeys(roomID)...); err != nil {
		slog.WarnContext(r.Context(), "failed to invalidate stat cache", "error", err, "room_id", roomID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeRawJSON(w http.ResponseWriter, r *http.Request, payload []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}
