// cache.go — LRU-кэш записей исследований с TTL для проверок доступа.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "metabostore_study_cache_hits_total",
		Help: "Общее количество попаданий в кэш исследований.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "metabostore_study_cache_misses_total",
		Help: "Общее количество промахов кэша исследований.",
	})
)

// StudyCache — кэш записей исследований по accession.
// Записи инвалидируются при каждом изменении исследования.
type StudyCache struct {
	cache *expirable.LRU[string, model.Study]
}

// NewStudyCache создаёт кэш. maxSize <= 0 — кэш отключён.
func NewStudyCache(maxSize int, ttl time.Duration) *StudyCache {
	if maxSize <= 0 {
		return &StudyCache{}
	}
	return &StudyCache{cache: expirable.NewLRU[string, model.Study](maxSize, nil, ttl)}
}

// Get возвращает копию записи исследования из кэша.
func (c *StudyCache) Get(accession string) (*model.Study, bool) {
	if c.cache == nil {
		return nil, false
	}
	val, ok := c.cache.Get(accession)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return &val, true
}

// Set сохраняет копию записи.
func (c *StudyCache) Set(s *model.Study) {
	if c.cache == nil || s == nil {
		return
	}
	c.cache.Add(s.Accession, *s)
}

// Delete удаляет запись (инвалидация после изменения).
func (c *StudyCache) Delete(accession string) {
	if c.cache != nil {
		c.cache.Remove(accession)
	}
}
