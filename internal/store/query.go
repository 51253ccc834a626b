package store

// QueryOption refines a repository query.
type QueryOption func(*Query)

// Where adds an equality condition. A nil value matches unset fields.
func Where(field string, value any) QueryOption {
	return func(q *Query) {
		q.Where = append(q.Where, Condition{Field: field, Value: value})
	}
}

// OrderBy sorts ascending by field. Repeated calls add secondary keys.
func OrderBy(field string) QueryOption {
	return func(q *Query) {
		q.OrderBy = append(q.OrderBy, Order{Field: field})
	}
}

// OrderByDesc sorts descending by field.
func OrderByDesc(field string) QueryOption {
	return func(q *Query) {
		q.OrderBy = append(q.OrderBy, Order{Field: field, Desc: true})
	}
}

// Limit caps the number of rows returned.
func Limit(n int) QueryOption {
	return func(q *Query) {
		q.Limit = n
	}
}

func buildQuery(opts []QueryOption) Query {
	var q Query
	for _, opt := range opts {
		opt(&q)
	}
	return q
}
