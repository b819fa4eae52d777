package file

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/techdocs/turbo/internal/apperr"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	// maxPage keeps (page-1)*limit inside 32 bits.
	maxPage = math.MaxInt32 / maxLimit
)

// sortable maps API column names to SQL columns.
var sortable = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"path":      "path",
}

// SortField is one ORDER BY term.
type SortField struct {
	Column string
	Desc   bool
}

// PathFilter restricts listing by path.
type PathFilter struct {
	// Op is "eq" or "ilike".
	Op    string
	Not   bool
	Value string
}

// ListQuery holds validated pagination, sorting and filtering.
type ListQuery struct {
	Page   int
	Limit  int
	Sort   []SortField
	Search string
	Path   *PathFilter
}

// Meta describes a page of results.
type Meta struct {
	TotalItems   int `json:"totalItems"`
	ItemCount    int `json:"itemCount"`
	ItemsPerPage int `json:"itemsPerPage"`
	TotalPages   int `json:"totalPages"`
	CurrentPage  int `json:"currentPage"`
}

// Links are navigation URLs for a page.
type Links struct {
	First    string `json:"first,omitempty"`
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current"`
	Next     string `json:"next,omitempty"`
	Last     string `json:"last,omitempty"`
}

// Page is the paginated list response.
type Page struct {
	Data  []File `json:"data"`
	Meta  Meta   `json:"meta"`
	Links *Links `json:"links,omitempty"`
}

// ParseListQuery reads page, limit, sortBy, search and filter.path from
// query parameters. The filter may be given as filter.path or filter[path],
// with an optional $not: prefix and an $eq: or $ilike: operator.
func ParseListQuery(v url.Values) (ListQuery, error) {
	q := ListQuery{Page: 1, Limit: defaultLimit}

	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPage {
			return q, apperr.Validation("page", fmt.Sprintf("page must be between 1 and %d", maxPage))
		}
		q.Page = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			return q, apperr.Validation("limit", fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		}
		q.Limit = n
	}

	for _, raw := range v["sortBy"] {
		col, dir, _ := strings.Cut(raw, ":")
		if _, ok := sortable[col]; !ok {
			return q, apperr.Validation("sortBy", fmt.Sprintf("cannot sort by %q", col))
		}
		switch strings.ToUpper(dir) {
		case "", "ASC":
			q.Sort = append(q.Sort, SortField{Column: col})
		case "DESC":
			q.Sort = append(q.Sort, SortField{Column: col, Desc: true})
		default:
			return q, apperr.Validation("sortBy", fmt.Sprintf("invalid sort direction %q", dir))
		}
	}
	if len(q.Sort) == 0 {
		q.Sort = []SortField{{Column: "createdAt", Desc: true}}
	}

	q.Search = strings.TrimSpace(v.Get("search"))

	raw := v.Get("filter.path")
	if raw == "" {
		raw = v.Get("filter[path]")
	}
	if raw != "" {
		f, err := parsePathFilter(raw)
		if err != nil {
			return q, err
		}
		q.Path = f
	}
	return q, nil
}

func parsePathFilter(raw string) (*PathFilter, error) {
	f := &PathFilter{Op: "eq"}
	if rest, ok := strings.CutPrefix(raw, "$not:"); ok {
		f.Not = true
		raw = rest
	}
	switch {
	case strings.HasPrefix(raw, "$eq:"):
		raw = strings.TrimPrefix(raw, "$eq:")
	case strings.HasPrefix(raw, "$ilike:"):
		f.Op = "ilike"
		raw = strings.TrimPrefix(raw, "$ilike:")
	case strings.HasPrefix(raw, "$"):
		return nil, apperr.Validation("filter", "unsupported filter operator")
	}
	if raw == "" {
		return nil, apperr.Validation("filter", "filter value is empty")
	}
	f.Value = raw
	return f, nil
}

// Offset is the number of rows to skip.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// buildListSQL renders the WHERE clause (without the keyword) with its
// positional args starting at $1, and the ORDER BY list.
func buildListSQL(q ListQuery) (where string, args []any, orderBy string) {
	var conds []string
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		conds = append(conds, fmt.Sprintf("path ILIKE $%d", len(args)))
	}
	if f := q.Path; f != nil {
		switch f.Op {
		case "ilike":
			args = append(args, "%"+f.Value+"%")
			op := "ILIKE"
			if f.Not {
				op = "NOT ILIKE"
			}
			conds = append(conds, fmt.Sprintf("path %s $%d", op, len(args)))
		default:
			args = append(args, f.Value)
			op := "="
			if f.Not {
				op = "<>"
			}
			conds = append(conds, fmt.Sprintf("path %s $%d", op, len(args)))
		}
	}
	where = strings.Join(conds, " AND ")

	terms := make([]string, 0, len(q.Sort)+1)
	for _, s := range q.Sort {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		terms = append(terms, sortable[s.Column]+" "+dir)
	}
	// id keeps pages stable when sort values tie.
	terms = append(terms, "id ASC")
	orderBy = strings.Join(terms, ", ")
	return where, args, orderBy
}

func newMeta(total, count int, q ListQuery) Meta {
	pages := 0
	if total > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	return Meta{
		TotalItems:   total,
		ItemCount:    count,
		ItemsPerPage: q.Limit,
		TotalPages:   pages,
		CurrentPage:  q.Page,
	}
}

// buildLinks derives navigation links from the request URL.
func buildLinks(u *url.URL, m Meta) *Links {
	at := func(page int) string {
		v := u.Query()
		v.Set("page", strconv.Itoa(page))
		v.Set("limit", strconv.Itoa(m.ItemsPerPage))
		return u.Path + "?" + v.Encode()
	}
	l := &Links{Current: at(m.CurrentPage)}
	if m.TotalPages == 0 {
		return l
	}
	l.First = at(1)
	l.Last = at(m.TotalPages)
	if m.CurrentPage > 1 {
		l.Previous = at(m.CurrentPage - 1)
	}
	if m.CurrentPage < m.TotalPages {
		l.Next = at(m.CurrentPage + 1)
	}
	return l
}
