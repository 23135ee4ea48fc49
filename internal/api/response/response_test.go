package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperwn/contraq/internal/api/response"
)

func TestJSONWrapsInDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "value", body.Data["key"])
}

func TestAccepted(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Accepted(rec, map[string]int{"count": 3})

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Created(rec, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Error(rec, http.StatusNotFound, "ENTRY_NOT_FOUND", "Queue entry not found",
		map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ENTRY_NOT_FOUND", body.Error.Code)
	assert.Equal(t, "Queue entry not found", body.Error.Message)
	assert.Equal(t, "abc", body.Error.Details["id"])
}

func TestErrorOmitsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Error(rec, http.StatusBadRequest, "INVALID_REQUEST", "Bad input", nil)

	assert.NotContains(t, rec.Body.String(), "details")
}
