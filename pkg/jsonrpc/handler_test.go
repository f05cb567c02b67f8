package jsonrpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubAPI implements the one bundler method these tests dispatch to.
type stubAPI struct{}

func (stubAPI) Eth_chainId() (string, error) {
	return "0x1", nil
}

func postJSONRPC(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rpc", Controller(stubAPI{}, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeRPCResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestControllerRejectsMissingJSONRPCVersion(t *testing.T) {
	rec := postJSONRPC(t, `{"id":1,"method":"eth_chainId","params":[]}`)

	resp := decodeRPCResponse(t, rec)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected an error object in the response")
	assert.Contains(t, errObj["data"], "jsonrpc")
}

func TestControllerRejectsWrongJSONRPCVersion(t *testing.T) {
	rec := postJSONRPC(t, `{"jsonrpc":"1.0","id":1,"method":"eth_chainId","params":[]}`)

	resp := decodeRPCResponse(t, rec)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errObj["data"], "jsonrpc")
}

func TestControllerRejectsMissingID(t *testing.T) {
	rec := postJSONRPC(t, `{"jsonrpc":"2.0","method":"eth_chainId","params":[]}`)

	resp := decodeRPCResponse(t, rec)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errObj["data"], "id")
}

func TestControllerRejectsMissingMethod(t *testing.T) {
	rec := postJSONRPC(t, `{"jsonrpc":"2.0","id":1,"params":[]}`)

	resp := decodeRPCResponse(t, rec)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errObj["data"], "method")
}

func TestControllerDispatchesValidRequest(t *testing.T) {
	rec := postJSONRPC(t, `{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`)

	resp := decodeRPCResponse(t, rec)
	assert.Equal(t, "0x1", resp["result"])
	assert.Nil(t, resp["error"])
}
