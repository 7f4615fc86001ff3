package utils

func NullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Paginate converte page/limit (page começa em 1) em offset/limit, aplicando defaultLimit e maxLimit.
func Paginate(page, limit, defaultLimit, maxLimit int) (offset int, size int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}
