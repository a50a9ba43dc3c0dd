package model

import (
	"path"
	"sort"
	"strings"
)

// ReferenceSet — множество относительных путей, упомянутых в метаданных.
type ReferenceSet map[string]struct{}

// NewReferenceSet создаёт множество из списка путей.
func NewReferenceSet(paths ...string) ReferenceSet {
	s := make(ReferenceSet, len(paths))
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

// CleanRelPath нормализует относительный путь: обрезка пробелов,
// '/' как разделитель, без ведущих "./" и "/".
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Add добавляет путь; пустые значения игнорируются.
func (s ReferenceSet) Add(p string) {
	if p = CleanRelPath(p); p != "" {
		s[p] = struct{}{}
	}
}

// Has проверяет наличие пути.
func (s ReferenceSet) Has(p string) bool {
	_, ok := s[CleanRelPath(p)]
	return ok
}

// Sorted возвращает пути в лексикографическом порядке.
func (s ReferenceSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
