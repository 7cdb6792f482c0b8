package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/evmindex/evmindex/internal/logger"
	"github.com/evmindex/evmindex/pkg/entitystore"
	"github.com/evmindex/evmindex/pkg/indexing"
)

const defaultLimit = 100

// addressFields is the set of well-known field names an address filter is
// matched against, case-insensitively, across an entity's arbitrary JSON.
var addressFields = []string{"address", "token", "from", "to", "owner", "spender"}

// Handler serves read-only HTTP query routes over indexed entities.
type Handler struct {
	store entitystore.EntityStore
	log   *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(store entitystore.EntityStore, log *logger.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// ListEntities returns every entity table known from registered indexing
// functions' declared writes.
// @Summary List queryable entities
// @Description Get every entity table any registered indexing function writes to
// @Tags Entities
// @Produce json
// @Success 200 {array} EntityInfo "List of entities"
// @Router /entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]struct{})
	var names []string
	for _, reg := range indexing.All() {
		for _, t := range reg.Access.Writes {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				names = append(names, t)
			}
		}
	}
	sort.Strings(names)

	infos := make([]EntityInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, EntityInfo{
			Name: name,
			Endpoints: []string{
				fmt.Sprintf("/api/v1/entities/%s", name),
				fmt.Sprintf("/api/v1/entities/%s/stats", name),
				fmt.Sprintf("/api/v1/entities/%s/timeseries", name),
			},
		})
	}

	respondJSON(w, http.StatusOK, infos)
}

// GetEntity returns one entity row by id.
// @Summary Get one entity row
// @Tags Entities
// @Produce json
// @Param entity path string true "Entity name"
// @Param id path string true "Entity id"
// @Success 200 {object} EntityRow
// @Failure 404 {object} ErrorResponse "Row not found"
// @Router /entities/{entity}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	id := r.PathValue("id")

	var data map[string]any
	ok, err := h.store.FindUnique(r.Context(), entity, id, &data)
	if err != nil {
		h.log.Errorf("find unique %s/%s: %v", entity, id, err)
		respondError(w, http.StatusInternalServerError, "failed to query entity")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s/%s not found", entity, id))
		return
	}

	respondJSON(w, http.StatusOK, EntityRow{ID: id, Data: data})
}

// ListEntityRows lists, filters, sorts and paginates an entity's rows.
// @Summary List an entity's rows
// @Tags Entities
// @Produce json
// @Param entity path string true "Entity name"
// @Param limit query int false "Maximum number of rows to return" default(100)
// @Param offset query int false "Number of rows to skip" default(0)
// @Param from_block query integer false "Filter rows written from this block number"
// @Param to_block query integer false "Filter rows written up to this block number"
// @Param chain_id query integer false "Filter rows written from this chain"
// @Param address query string false "Filter by an address-shaped field"
// @Param sort_by query string false "Field to sort by"
// @Param sort_order query string false "Sort order: asc or desc" Enums(asc, desc)
// @Success 200 {object} EntityListResponse
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{entity} [get]
func (h *Handler) ListEntityRows(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	params, err := parseQueryParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	rows, err := h.decodeRows(r, entity, *params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	total := len(rows)
	sortRows(rows, params.SortBy, params.SortOrder)
	rows = paginate(rows, params.Offset, params.Limit)

	respondJSON(w, http.StatusOK, EntityListResponse{
		Entity: entity,
		Rows:   rows,
		Pagination: PaginationResult{
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: params.Offset+len(rows) < total,
		},
	})
}

// GetEntityStats returns row-count and latest-block summary statistics for
// an entity table.
// @Summary Get entity statistics
// @Tags Entities
// @Produce json
// @Param entity path string true "Entity name"
// @Success 200 {object} EntityStats
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{entity}/stats [get]
func (h *Handler) GetEntityStats(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	rows, err := h.store.FindMany(r.Context(), entity)
	if err != nil {
		h.log.Errorf("find many %s: %v", entity, err)
		respondError(w, http.StatusInternalServerError, "failed to query entity stats")
		return
	}

	stats := EntityStats{Entity: entity, RowCount: len(rows)}
	for _, row := range rows {
		if row.Checkpoint.BlockNumber > stats.LatestBlock {
			stats.LatestBlock = row.Checkpoint.BlockNumber
			stats.LatestChainID = row.Checkpoint.ChainID
		}
	}

	respondJSON(w, http.StatusOK, stats)
}

// GetEntityTimeseries buckets an entity's rows by block-number range and
// returns a count per bucket.
// @Summary Get timeseries entity data
// @Tags Entities
// @Produce json
// @Param entity path string true "Entity name"
// @Param buckets query int false "Number of buckets" default(10)
// @Success 200 {array} TimeseriesDataPoint
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /entities/{entity}/timeseries [get]
func (h *Handler) GetEntityTimeseries(w http.ResponseWriter, r *http.Request) {
	const defaultBuckets = 10

	entity := r.PathValue("entity")
	buckets := defaultBuckets
	if s := r.URL.Query().Get("buckets"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid buckets: must be a positive integer")
			return
		}
		buckets = n
	}

	rows, err := h.store.FindMany(r.Context(), entity)
	if err != nil {
		h.log.Errorf("find many %s: %v", entity, err)
		respondError(w, http.StatusInternalServerError, "failed to query entity timeseries")
		return
	}

	respondJSON(w, http.StatusOK, bucketByBlock(rows, buckets))
}

// Health returns the health status of the API.
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

func (h *Handler) decodeRows(r *http.Request, entity string, params QueryParams) ([]EntityRow, error) {
	stored, err := h.store.FindMany(r.Context(), entity)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity rows: %w", err)
	}

	out := make([]EntityRow, 0, len(stored))
	for _, row := range stored {
		if params.FromBlock != nil && row.Checkpoint.BlockNumber < *params.FromBlock {
			continue
		}
		if params.ToBlock != nil && row.Checkpoint.BlockNumber > *params.ToBlock {
			continue
		}
		if params.ChainID != nil && row.Checkpoint.ChainID != *params.ChainID {
			continue
		}

		var data map[string]any
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode entity row %s: %w", row.ID, err)
		}

		if params.Address != "" && !matchesAddress(data, params.Address) {
			continue
		}

		out = append(out, EntityRow{
			ID:          row.ID,
			ChainID:     row.Checkpoint.ChainID,
			BlockNumber: row.Checkpoint.BlockNumber,
			Data:        data,
		})
	}
	return out, nil
}

func matchesAddress(data map[string]any, want string) bool {
	for _, field := range addressFields {
		if v, ok := data[field].(string); ok && strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func sortRows(rows []EntityRow, sortBy, sortOrder string) {
	if sortBy == "" {
		return
	}
	desc := strings.EqualFold(sortOrder, "desc")

	sort.SliceStable(rows, func(i, j int) bool {
		less := compareField(rows[i].Data[sortBy], rows[j].Data[sortBy])
		if desc {
			return less > 0
		}
		return less < 0
	})
}

// compareField compares two decoded JSON values, returning -1/0/1. Numbers
// compare numerically, everything else compares as its string form.
func compareField(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func paginate(rows []EntityRow, offset, limit int) []EntityRow {
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func bucketByBlock(rows []entitystore.Row, buckets int) []TimeseriesDataPoint {
	if len(rows) == 0 {
		return nil
	}

	minBlock, maxBlock := rows[0].Checkpoint.BlockNumber, rows[0].Checkpoint.BlockNumber
	for _, row := range rows {
		if row.Checkpoint.BlockNumber < minBlock {
			minBlock = row.Checkpoint.BlockNumber
		}
		if row.Checkpoint.BlockNumber > maxBlock {
			maxBlock = row.Checkpoint.BlockNumber
		}
	}

	span := maxBlock - minBlock + 1
	bucketSize := span / uint64(buckets)
	if bucketSize == 0 {
		bucketSize = 1
	}

	points := make([]TimeseriesDataPoint, buckets)
	for i := range points {
		points[i].BlockRangeStart = minBlock + uint64(i)*bucketSize
		points[i].BlockRangeEnd = points[i].BlockRangeStart + bucketSize - 1
	}
	points[buckets-1].BlockRangeEnd = maxBlock

	for _, row := range rows {
		idx := int((row.Checkpoint.BlockNumber - minBlock) / bucketSize)
		if idx >= buckets {
			idx = buckets - 1
		}
		points[idx].Count++
	}
	return points
}

// parseQueryParams parses HTTP query parameters into QueryParams.
func parseQueryParams(r *http.Request) (*QueryParams, error) {
	params := &QueryParams{Limit: defaultLimit, Offset: 0}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 1000 {
			return params, fmt.Errorf("invalid limit: must be between 1 and 1000")
		}
		params.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("invalid offset: must be non-negative")
		}
		params.Offset = offset
	}

	if fromBlockStr := r.URL.Query().Get("from_block"); fromBlockStr != "" {
		fromBlock, err := strconv.ParseUint(fromBlockStr, 10, 64)
		if err != nil {
			return params, fmt.Errorf("invalid from_block")
		}
		params.FromBlock = &fromBlock
	}

	if toBlockStr := r.URL.Query().Get("to_block"); toBlockStr != "" {
		toBlock, err := strconv.ParseUint(toBlockStr, 10, 64)
		if err != nil {
			return params, fmt.Errorf("invalid to_block")
		}
		params.ToBlock = &toBlock
	}

	if params.FromBlock != nil && params.ToBlock != nil && *params.FromBlock > *params.ToBlock {
		return params, fmt.Errorf("from_block cannot be greater than to_block")
	}

	if chainIDStr := r.URL.Query().Get("chain_id"); chainIDStr != "" {
		chainID, err := strconv.ParseUint(chainIDStr, 10, 64)
		if err != nil {
			return params, fmt.Errorf("invalid chain_id")
		}
		params.ChainID = &chainID
	}

	if address := r.URL.Query().Get("address"); address != "" {
		params.Address = address
	}

	if sortBy := r.URL.Query().Get("sort_by"); sortBy != "" {
		params.SortBy = sortBy
	}

	if sortOrder := r.URL.Query().Get("sort_order"); sortOrder != "" {
		sortOrder = strings.ToLower(sortOrder)
		if sortOrder != "asc" && sortOrder != "desc" {
			return params, fmt.Errorf("invalid sort_order: must be 'asc' or 'desc'")
		}
		params.SortOrder = sortOrder
	}

	return params, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(encoded); err != nil {
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
