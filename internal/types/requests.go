package types

import "time"

// ReasonRequest is the optional body of cancel and reject calls.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// PayRequest carries the client's payment request id. The X-Request-ID
// header is used when the body omits it.
type PayRequest struct {
	RequestID string `json:"request_id"`
}

// SlotRequest opens a bookable time slot.
type SlotRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}
