package ginutil

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(target string, params gin.Params) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", target, nil)
	c.Params = params
	return c
}

func TestQueryInt(t *testing.T) {
	v, err := QueryInt(newContext("/x", nil), "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	v, err = QueryInt(newContext("/x?limit=7", nil), "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = QueryInt(newContext("/x?limit=many", nil), "limit", 50)
	assert.Error(t, err)
}

func TestParamUint64(t *testing.T) {
	v, err := ParamUint64(newContext("/", gin.Params{{Key: "id", Value: "42"}}), "id")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, err := ParamUint64(newContext("/", gin.Params{{Key: "id", Value: bad}}), "id")
		assert.Error(t, err, bad)
	}
}
