package api

import "time"

// QueryParams are the common query parameters accepted by the entity list
// endpoint.
type QueryParams struct {
	Limit  int `json:"limit" form:"limit"`
	Offset int `json:"offset" form:"offset"`

	// FromBlock/ToBlock filter by the block number the row was written at.
	FromBlock *uint64 `json:"from_block,omitempty" form:"from_block"`
	ToBlock   *uint64 `json:"to_block,omitempty" form:"to_block"`

	// ChainID filters by the chain the row was written from.
	ChainID *uint64 `json:"chain_id,omitempty" form:"chain_id"`

	// Address filters rows whose data contains a top-level string field
	// equal to this value (case-insensitive), matching any field named
	// "address", "token", "from", "to", "owner" or "spender".
	Address string `json:"address,omitempty" form:"address"`

	SortBy    string `json:"sort_by,omitempty" form:"sort_by"`
	SortOrder string `json:"sort_order,omitempty" form:"sort_order"`
}

// EntityRow is one decoded entity revision as returned to API callers.
type EntityRow struct {
	ID          string         `json:"id"`
	ChainID     uint64         `json:"chainId"`
	BlockNumber uint64         `json:"blockNumber"`
	Data        map[string]any `json:"data"`
}

// EntityListResponse is the response body of the entity list endpoint.
type EntityListResponse struct {
	Entity     string           `json:"entity"`
	Rows       []EntityRow      `json:"rows"`
	Pagination PaginationResult `json:"pagination"`
}

// PaginationResult contains pagination metadata.
type PaginationResult struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// EntityInfo describes one queryable entity table, derived from the
// registered indexing functions that write to it.
type EntityInfo struct {
	Name      string   `json:"name"`
	Endpoints []string `json:"endpoints"`
}

// EntityStats summarizes one entity table's current contents.
type EntityStats struct {
	Entity        string `json:"entity"`
	RowCount      int    `json:"row_count"`
	LatestBlock   uint64 `json:"latest_block"`
	LatestChainID uint64 `json:"latest_chain_id"`
}

// TimeseriesDataPoint is one bucket of a timeseries aggregation.
type TimeseriesDataPoint struct {
	BlockRangeStart uint64 `json:"block_range_start"`
	BlockRangeEnd   uint64 `json:"block_range_end"`
	Count           int    `json:"count"`
}
