package ginutil

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueryInt extracts an integer from query parameters with default value.
// A present but malformed value is an error.
func QueryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

// ParamUint64 extracts a positive uint64 from path parameters
func ParamUint64(c *gin.Context, key string) (uint64, error) {
	value, err := strconv.ParseUint(c.Param(key), 10, 64)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, strconv.ErrRange
	}
	return value, nil
}
