package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/manpreetbhatti/docworld/internal/auth"
	"github.com/manpreetbhatti/docworld/internal/hub"
	"github.com/manpreetbhatti/docworld/internal/store"
)

// Auto versions kept per room
const keepAutoVersions = 20

type API struct {
	hub    *hub.Hub
	store  store.Store
	tokens *auth.Issuer
}

func New(h *hub.Hub, s store.Store, tokens *auth.Issuer) *API {
	return &API{
		hub:    h,
		store:  s,
		tokens: tokens,
	}
}

// Register mounts every route on r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms", a.CreateRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}", a.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/document", a.GetDocumentHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/versions", a.ListVersionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/versions", a.CreateVersionHandler).Methods(http.MethodPost)

	// diff must be registered before {id}
	r.HandleFunc("/api/versions/diff", a.DiffVersionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/versions/{id:[0-9]+}", a.GetVersionHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/versions/{id:[0-9]+}", a.DeleteVersionHandler).Methods(http.MethodDelete)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		glog.Errorf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request, defaultLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if catalog, ok := a.store.(store.Catalog); ok {
		if total, err := catalog.Count(r.Context()); err == nil {
			stats["total_documents"] = total
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateRoomRequest struct {
	// Rejected when set: ids are always minted here
	ID string `json:"id,omitempty"`
}

type CreateRoomResponse struct {
	ID            string    `json:"id"`
	CreationToken string    `json:"creation_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	catalog, ok := a.store.(store.Catalog)
	if !ok {
		errorResponse(w, http.StatusNotImplemented, "Listing is not supported by this store")
		return
	}

	limit, offset := pagination(r, 20)
	docs, err := catalog.List(r.Context(), limit, offset)
	if err != nil {
		glog.Errorf("Failed to list rooms: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.ActiveRooms()

	response := make([]RoomResponse, len(docs))
	for i, doc := range docs {
		response[i] = RoomResponse{
			ID:          doc.RoomID,
			CreatedAt:   doc.CreatedAt,
			UpdatedAt:   doc.UpdatedAt,
			ActiveUsers: activeRooms[doc.RoomID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

// CreateRoomHandler mints a fresh room id and the token that lets its
// creator join before any document exists. The body is optional.
func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID != "" {
		errorResponse(w, http.StatusBadRequest, "Room IDs are assigned by the server")
		return
	}

	roomID := uuid.NewString()
	token, expires, err := a.tokens.Issue(roomID)
	if err != nil {
		glog.Errorf("Failed to issue creation token: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	jsonResponse(w, http.StatusCreated, CreateRoomResponse{
		ID:            roomID,
		CreationToken: token,
		ExpiresAt:     expires,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := a.document(w, r)
	if !ok {
		return
	}

	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          doc.RoomID,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		ActiveUsers: a.hub.ActiveRooms()[doc.RoomID],
	})
}

// GetDocumentHandler returns the last saved content of a room.
func (a *API) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	doc, ok := a.document(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, doc)
}

func (a *API) document(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	roomID := mux.Vars(r)["id"]

	doc, err := a.store.Get(r.Context(), roomID)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return nil, false
	}
	if err != nil {
		glog.Errorf("Failed to get room %s: %v", roomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return nil, false
	}
	return doc, true
}

// Version handlers

type CreateVersionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Defaults to the room's saved document
	Content   string `json:"content"`
	CreatedBy string `json:"created_by"`
	IsAuto    bool   `json:"is_auto"`
}

type VersionResponse struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content,omitempty"` // Omit in list view
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

func versionResponse(v *store.Version, withContent bool) VersionResponse {
	resp := VersionResponse{
		ID:          v.ID,
		RoomID:      v.RoomID,
		Name:        v.Name,
		Description: v.Description,
		ContentHash: v.ContentHash,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		IsAuto:      v.IsAuto,
	}
	if withContent {
		resp.Content = v.Content
	}
	return resp
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:8])
}

func (a *API) versions(w http.ResponseWriter) (store.VersionStore, bool) {
	vs, ok := a.store.(store.VersionStore)
	if !ok {
		errorResponse(w, http.StatusNotImplemented, "Versions are not supported by this store")
	}
	return vs, ok
}

func versionID(w http.ResponseWriter, raw, label string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid %sversion ID", label))
		return 0, false
	}
	return id, true
}

// ListVersionsHandler returns a room's versions, newest first, without content.
func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	vs, ok := a.versions(w)
	if !ok {
		return
	}
	roomID := mux.Vars(r)["id"]
	limit, offset := pagination(r, 50)

	versions, err := vs.ListVersions(r.Context(), roomID, limit, offset)
	if err != nil {
		glog.Errorf("Failed to list versions for %s: %v", roomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}

	response := make([]VersionResponse, len(versions))
	for i := range versions {
		response[i] = versionResponse(&versions[i], false)
	}

	total, _ := vs.CountVersions(r.Context(), roomID)

	jsonResponse(w, http.StatusOK, map[string]any{
		"versions": response,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) CreateVersionHandler(w http.ResponseWriter, r *http.Request) {
	vs, ok := a.versions(w)
	if !ok {
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	doc, ok := a.document(w, r)
	if !ok {
		return
	}
	if req.Content == "" {
		req.Content = string(doc.Content)
	}

	if req.Name == "" {
		if req.IsAuto {
			req.Name = fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
		} else {
			req.Name = fmt.Sprintf("Version %s", time.Now().Format("Jan 2, 3:04 PM"))
		}
	}

	contentHash := hashContent(req.Content)

	// Skip auto-saves identical to the latest version
	if req.IsAuto {
		latest, err := vs.LatestVersion(r.Context(), doc.RoomID)
		if err == nil && latest.ContentHash == contentHash {
			jsonResponse(w, http.StatusOK, versionResponse(latest, false))
			return
		}
	}

	version, err := vs.CreateVersion(r.Context(), store.Version{
		RoomID:      doc.RoomID,
		Name:        req.Name,
		Description: req.Description,
		Content:     req.Content,
		ContentHash: contentHash,
		CreatedBy:   req.CreatedBy,
		IsAuto:      req.IsAuto,
	})
	if err != nil {
		glog.Errorf("Failed to create version for %s: %v", doc.RoomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create version")
		return
	}

	if req.IsAuto {
		if err := vs.DeleteOldAutoVersions(r.Context(), doc.RoomID, keepAutoVersions); err != nil {
			glog.Warningf("Failed to clean up old auto versions: %v", err)
		}
	}

	jsonResponse(w, http.StatusCreated, versionResponse(version, false))
}

// GetVersionHandler retrieves a specific version with full content
func (a *API) GetVersionHandler(w http.ResponseWriter, r *http.Request) {
	vs, ok := a.versions(w)
	if !ok {
		return
	}
	id, ok := versionID(w, mux.Vars(r)["id"], "")
	if !ok {
		return
	}

	version, err := vs.GetVersion(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}

	jsonResponse(w, http.StatusOK, versionResponse(version, true))
}

func (a *API) DeleteVersionHandler(w http.ResponseWriter, r *http.Request) {
	vs, ok := a.versions(w)
	if !ok {
		return
	}
	id, ok := versionID(w, mux.Vars(r)["id"], "")
	if !ok {
		return
	}

	if err := vs.DeleteVersion(r.Context(), id); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete version")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Version deleted"})
}

// DiffVersionsHandler computes a line diff between two versions
func (a *API) DiffVersionsHandler(w http.ResponseWriter, r *http.Request) {
	vs, ok := a.versions(w)
	if !ok {
		return
	}
	fromID, ok := versionID(w, r.URL.Query().Get("from"), "'from' ")
	if !ok {
		return
	}
	toID, ok := versionID(w, r.URL.Query().Get("to"), "'to' ")
	if !ok {
		return
	}

	from, err := vs.GetVersion(r.Context(), fromID)
	if err != nil {
		errorResponse(w, http.StatusNotFound, "From version not found")
		return
	}
	to, err := vs.GetVersion(r.Context(), toID)
	if err != nil {
		errorResponse(w, http.StatusNotFound, "To version not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"from": VersionResponse{ID: from.ID, Name: from.Name, ContentHash: from.ContentHash, CreatedAt: from.CreatedAt},
		"to":   VersionResponse{ID: to.ID, Name: to.Name, ContentHash: to.ContentHash, CreatedAt: to.CreatedAt},
		"diff": computeDiff(from.Content, to.Content),
	})
}

type DiffLine struct {
	Type    string `json:"type"` // "added", "removed", "unchanged"
	Content string `json:"content"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

func computeDiff(oldContent, newContent string) []DiffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	result := []DiffLine{}
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
				result = append(result, DiffLine{Type: "unchanged", Content: line, OldLine: oldLine, NewLine: newLine})
			case diffmatchpatch.DiffDelete:
				oldLine++
				result = append(result, DiffLine{Type: "removed", Content: line, OldLine: oldLine})
			case diffmatchpatch.DiffInsert:
				newLine++
				result = append(result, DiffLine{Type: "added", Content: line, NewLine: newLine})
			}
		}
	}
	return result
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	return lines
}
