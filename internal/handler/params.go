package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"experimentservice/internal/apperr"
	"experimentservice/internal/lifecycle"
)

const (
	reasonBadQuery  = "invalid_query"
	reasonInvalidID = "invalid_id"
)

// idParams are the path segments that always hold entity ids.
var idParams = map[string]struct{}{
	"id":         {},
	"capture_id": {},
	"profile_id": {},
	"project_id": {},
}

// checkUUIDs rejects ids that are not uuids and lists them.
func checkUUIDs(field string, ids ...string) error {
	var bad []string
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			bad = append(bad, id)
		}
	}
	if len(bad) > 0 {
		return apperr.Validation(reasonInvalidID, "%s must be a uuid", field).WithIDs(bad)
	}
	return nil
}

func checkUUIDPtr(field string, id *string) error {
	if id == nil {
		return nil
	}
	return checkUUIDs(field, *id)
}

// uuidParams answers 400 before any handler runs when an id path segment is
// not a uuid.
func uuidParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range c.Params {
			if _, ok := idParams[p.Key]; !ok {
				continue
			}
			if err := checkUUIDs(p.Key, p.Value); err != nil {
				Fail(c, err)
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func int64Query(c *gin.Context, key string) (int64, error) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Validation(reasonBadQuery, "%s must be a non-negative integer", key)
	}
	return n, nil
}

func boolQueryDefault(c *gin.Context, key string, def bool) bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

func boolQueryPtr(c *gin.Context, key string) *bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return &b
		}
	}
	return nil
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func statusQueryPtr(c *gin.Context) *lifecycle.Status {
	if val := strQueryPtr(c, "status"); val != nil {
		s := lifecycle.Status(strings.ToLower(*val))
		return &s
	}
	return nil
}

// timeQueryPtr accepts RFC 3339 timestamps.
func timeQueryPtr(c *gin.Context, key string) (*time.Time, error) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, apperr.Validation(reasonBadQuery, "%s must be an RFC 3339 timestamp", key)
	}
	t = t.UTC()
	return &t, nil
}

func durationQuery(c *gin.Context, key string) time.Duration {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return 0
}

func parseOrder(value string, allow map[string]string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return ""
	}
	if mapped, ok := allow[key]; ok {
		return mapped
	}
	return ""
}

// descQuery reads order=asc|desc.
func descQuery(c *gin.Context, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query("order"))) {
	case "asc":
		return false
	case "desc":
		return true
	}
	return def
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}

// listWindow reads limit and offset, clamped the way the store clamps them.
func listWindow(c *gin.Context) (int, int) {
	limit := intQuery(c, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
