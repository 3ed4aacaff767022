package resp

import "tillsync/internal/model"

type QueueListResponse struct {
	Data  []model.QueuedOperation `json:"data"`
	Total int                     `json:"total"`
}

type ConnectivityResponse struct {
	Online bool `json:"online"`
}

type ControlResponse struct {
	Accepted bool   `json:"accepted"`
	Type     string `json:"type"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
