package dto

// CreateConnectorRequest defines the body for POST /connectors. Config keys
// are the connector configuration keys (host, port, bind, ...).
type CreateConnectorRequest struct {
	CID    string            `json:"cid" binding:"required"`
	Config map[string]string `json:"config"`
}

// UpdateConnectorRequest defines the body for PATCH /connectors/:cid
type UpdateConnectorRequest struct {
	Config map[string]string `json:"config" binding:"required"`
}

type UpdateConnectorResponse struct {
	Keys    []string `json:"keys"`
	Restart bool     `json:"restart"`
}
