package models

// TestRequest represents the request body for testing one cell
type TestRequest struct {
	Serial string `json:"serial" binding:"required"`
	// OnDuplicate is "retest" (overwrite) or "skip"; empty means skip.
	OnDuplicate string `json:"on_duplicate,omitempty"`
}

// RankRequest represents the query of a ranking or matching request
type RankRequest struct {
	By        string `form:"by,omitempty"`         // ocv | r0 | dcir (default)
	Limit     int    `form:"limit,omitempty"`      // 0 = all
	GroupSize int    `form:"group_size,omitempty"` // > 0 switches to matching groups
}
