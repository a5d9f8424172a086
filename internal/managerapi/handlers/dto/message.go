package dto

// SubmitSmRequest is accepted as JSON or as form values. Either Content or
// HexContent carries the message.
type SubmitSmRequest struct {
	Username       string  `json:"username" form:"username" binding:"required"`
	Password       string  `json:"password" form:"password" binding:"required"`
	To             string  `json:"to" form:"to" binding:"required"`
	From           *string `json:"from" form:"from"`
	Coding         *uint8  `json:"coding" form:"coding"`
	Content        *string `json:"content" form:"content"`
	HexContent     *string `json:"hex_content" form:"hex-content"`
	Priority       *uint8  `json:"priority" form:"priority"`
	ValidityPeriod *int    `json:"validity_period" form:"validity-period"` // minutes
	Tags           string  `json:"tags" form:"tags"`                       // comma separated

	DLR       string `json:"dlr" form:"dlr"` // yes or no
	DLRURL    string `json:"dlr_url" form:"dlr-url"`
	DLRLevel  *int   `json:"dlr_level" form:"dlr-level"`
	DLRMethod string `json:"dlr_method" form:"dlr-method"`
}

type SubmitSmResponse struct {
	MessageID   string `json:"message_id"`
	ConnectorID string `json:"cid"`
	RouteOrder  int    `json:"route_order"`
	Segments    int    `json:"segments"`
}
