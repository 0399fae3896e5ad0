// Package query provides in-memory filtering and ordering over item
// snapshots. It never touches the network or the store.
package query

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/kpotapov/newsline/app/client"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(s)) {
	case OrderAsc:
		return OrderAsc, nil
	case OrderDesc:
		return OrderDesc, nil
	default:
		return "", fmt.Errorf("unknown sort order: %q", s)
	}
}

// Match reports whether the item's title or summary contains the query,
// case-insensitively. Unicode case folding keeps the comparison
// locale-agnostic.
func Match(item client.Item, q string) bool {
	folded := fold(q)
	return strings.Contains(fold(item.Title), folded) ||
		strings.Contains(fold(item.Summary), folded)
}

// Filter returns the matching subset in the original relative order.
// An empty query returns a copy of the full input.
func Filter(items []client.Item, q string) []client.Item {
	if q == "" {
		result := make([]client.Item, len(items))
		copy(result, items)
		return result
	}

	result := make([]client.Item, 0, len(items))
	for _, item := range items {
		if Match(item, q) {
			result = append(result, item)
		}
	}
	return result
}

// Sort returns a new slice ordered by published date. Equal dates keep
// their existing relative order.
func Sort(items []client.Item, order Order) []client.Item {
	result := make([]client.Item, len(items))
	copy(result, items)

	sort.SliceStable(result, func(i, j int) bool {
		if order == OrderAsc {
			return result[i].PublishedAt.Before(result[j].PublishedAt)
		}
		return result[i].PublishedAt.After(result[j].PublishedAt)
	})

	return result
}

// A cases.Caser carries internal state, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}
