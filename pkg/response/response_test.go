package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
)

func serve(t *testing.T, data any, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	Handle(c, data, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHandleMapsKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", apperr.NotFound("Order", "ORD_1"), http.StatusNotFound, apperr.CodeNotFound},
		{"invalid input", apperr.InvalidInput(apperr.CodeInvalidRequestID, "blank"), http.StatusBadRequest, apperr.CodeInvalidRequestID},
		{"transition", apperr.InvalidTransition("cannot accept order"), http.StatusBadRequest, apperr.CodeInvalidStateTransition},
		{"conflict", apperr.Conflict(apperr.CodeIdempotencyKeyConflict, "reused"), http.StatusConflict, apperr.CodeIdempotencyKeyConflict},
		{"unavailable", apperr.Unavailable(apperr.CodeSlotNotAvailable, "taken"), http.StatusConflict, apperr.CodeSlotNotAvailable},
		{"forbidden", apperr.Forbidden("not yours"), http.StatusForbidden, apperr.CodeForbidden},
		{"wrapped", errors.Wrap(apperr.NotFound("Slot", "S"), "book"), http.StatusNotFound, apperr.CodeNotFound},
		{"gorm not found", gorm.ErrRecordNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"gorm duplicate", gorm.ErrDuplicatedKey, http.StatusConflict, ErrCodeDuplicateResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := serve(t, nil, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestHandleHidesInternalErrors(t *testing.T) {
	w, body := serve(t, nil, apperr.Internal(errors.New("pq: connection refused"), "save order"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, body.Error.Code)
	assert.Equal(t, "Internal server error", body.Error.Message)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestHandleSuccess(t *testing.T) {
	w, body := serve(t, gin.H{"ok": true}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, body.Success)
	assert.Nil(t, body.Error)
}
