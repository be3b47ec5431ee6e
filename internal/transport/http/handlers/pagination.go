package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const maxPageSize = 200

var (
	errInvalidPage = errors.New("page and page_size must be positive integers")
	errInvalidDate = errors.New("date_from must be an RFC3339 timestamp or YYYY-MM-DD date")
	errInvalidID   = errors.New("id must be a positive integer")
)

type pageQuery struct {
	page     int
	pageSize int
}

func (p pageQuery) offset() int {
	return (p.page - 1) * p.pageSize
}

func parsePage(c *gin.Context, defaultSize int) (pageQuery, error) {
	p := pageQuery{page: 1, pageSize: defaultSize}

	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, errInvalidPage
		}
		p.page = n
	}
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return p, errInvalidPage
		}
		p.pageSize = min(n, maxPageSize)
	}
	return p, nil
}

func parseDateFrom(c *gin.Context) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query("date_from"))
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errInvalidDate
	}
	return &day, nil
}

// parseSortAsc accepts "field" for ascending and "-field" for descending.
func parseSortAsc(c *gin.Context, field string) bool {
	return strings.TrimSpace(c.Query("sort")) == field
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errInvalidID
	}
	return id, nil
}
