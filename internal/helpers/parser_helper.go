package helpers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func StringToInt(s string) (int, error) {
	return strconv.Atoi(s)
}

// Pagination reads page and limit with sane bounds.
func Pagination(page, limit string) (int, int, error) {
	pageNum, err := StringToInt(page)
	if err != nil || pageNum < 1 {
		return 0, 0, fmt.Errorf("invalid page number")
	}
	limitNum, err := StringToInt(limit)
	if err != nil || limitNum < 1 || limitNum > 100 {
		return 0, 0, fmt.Errorf("invalid limit")
	}
	return pageNum, limitNum, nil
}

func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// ParseBool accepts the usual spellings and treats empty as def.
func ParseBool(s string, def bool) (bool, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
}
