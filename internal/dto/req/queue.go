package req

type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

type RequeueRequest struct {
	ID string `uri:"id" binding:"required"`
}

type StreamQuery struct {
	LastSeq *int64 `form:"last_seq"`
}
