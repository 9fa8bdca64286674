package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/optifolio/internal/modules/calculations"
)

// CacheEvictionJob removes expired calculation and solve-result cache
// entries so cache.db does not grow unbounded.
type CacheEvictionJob struct {
	cache *calculations.Cache
	log   zerolog.Logger
}

// NewCacheEvictionJob creates the cache eviction job.
func NewCacheEvictionJob(cache *calculations.Cache, log zerolog.Logger) *CacheEvictionJob {
	return &CacheEvictionJob{
		cache: cache,
		log:   log.With().Str("job", "cache_eviction").Logger(),
	}
}

// Name returns the job name
func (j *CacheEvictionJob) Name() string {
	return "cache_eviction"
}

// Run evicts expired cache rows.
func (j *CacheEvictionJob) Run() error {
	removed, err := j.cache.EvictExpired()
	if err != nil {
		return err
	}

	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Evicted expired cache entries")
	}
	return nil
}
