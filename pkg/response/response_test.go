package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type shortage struct{}

func (shortage) Error() string { return "短缺" }
func (shortage) Unwrap() error {
	return apperrors.New(apperrors.ErrCodeInsufficientStock, "库存不足")
}
func (shortage) Details() map[string]interface{} {
	return map[string]interface{}{"kind": "insufficient_stock", "product_id": 3}
}

func render(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]interface{}, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Error(c, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body, c
}

func TestError_AppErrorWithDetails(t *testing.T) {
	w, body, c := render(t, fmt.Errorf("预留失败: %w", shortage{}))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.EqualValues(t, apperrors.ErrCodeInsufficientStock, body["code"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "insufficient_stock", data["kind"])
	assert.Len(t, c.Errors, 1)
}

func TestError_PlainErrorIsInternal(t *testing.T) {
	w, body, _ := render(t, errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.EqualValues(t, apperrors.ErrCodeInternal, body["code"])
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{apperrors.ErrCodeTokenExpired, http.StatusUnauthorized},
		{apperrors.ErrCodeForbidden, http.StatusForbidden},
		{apperrors.ErrCodeOrderNotFound, http.StatusNotFound},
		{apperrors.ErrCodeInvalidTransition, http.StatusConflict},
		{apperrors.ErrCodeConcurrentUpdate, http.StatusConflict},
		{apperrors.ErrCodeValidation, http.StatusBadRequest},
		{apperrors.ErrCodeValidationTimeout, http.StatusGatewayTimeout},
		{apperrors.ErrCodeFulfillmentInconsistency, http.StatusInternalServerError},
		{40123, http.StatusBadRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.code), "code=%d", tt.code)
	}
}

func TestNewPageData(t *testing.T) {
	p := NewPageData([]int{1, 2}, 5, 1, 2)
	assert.Equal(t, 3, p.TotalPages)

	assert.Equal(t, 0, NewPageData(nil, 0, 1, 0).TotalPages)
}
