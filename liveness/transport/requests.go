package transport

// AddStreamRequest is the body of POST /api/streams.
type AddStreamRequest struct {
	StreamID string `json:"streamId" binding:"required,streamid"`
}

// StreamURIRequest binds the :streamId path segment.
type StreamURIRequest struct {
	StreamID string `uri:"streamId" binding:"required,streamid"`
}
