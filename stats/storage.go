package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MonthlyStats are the pipeline counters for one month
type MonthlyStats struct {
	Analyses          int       `json:"analyses"`
	FailedAnalyses    int       `json:"failed_analyses"`
	DegradedAnalyzers int       `json:"degraded_analyzers"`
	LinkProbes        int       `json:"link_probes"`
	BrokenLinks       int       `json:"broken_links"`
	ProviderFallbacks int       `json:"provider_fallbacks"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Delta is added to the current month by Record
type Delta struct {
	Analyses          int
	FailedAnalyses    int
	DegradedAnalyzers int
	LinkProbes        int
	BrokenLinks       int
	ProviderFallbacks int
}

// Storage keeps monthly counters in memory and, when a data directory is
// configured, snapshots them to stats.json.
type Storage struct {
	mutex       sync.RWMutex
	stats       map[string]*MonthlyStats // key: "YYYY-MM"
	filePath    string
	lastWrite   time.Time
	writeBuffer chan struct{}
	done        chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	logger      zerolog.Logger
	now         func() time.Time
}

// NewStorage creates a Storage. An empty dataDir keeps counters in memory
// only.
func NewStorage(dataDir string, logger zerolog.Logger) (*Storage, error) {
	s := &Storage{
		stats:       make(map[string]*MonthlyStats),
		writeBuffer: make(chan struct{}, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		logger:      logger.With().Str("component", "stats").Logger(),
		now:         time.Now,
	}

	if dataDir == "" {
		close(s.stopped)
		return s, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s.filePath = filepath.Join(dataDir, "stats.json")

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	go s.backgroundWriter(5 * time.Minute)
	return s, nil
}

func (s *Storage) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return json.Unmarshal(data, &s.stats)
}

// save writes to a temporary file and renames it over stats.json.
func (s *Storage) save() error {
	if s.filePath == "" {
		return nil
	}

	s.mutex.RLock()
	data, err := json.Marshal(s.stats)
	s.mutex.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func (s *Storage) backgroundWriter(interval time.Duration) {
	defer close(s.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.writeBuffer:
		case <-ticker.C:
		case <-s.done:
			return
		}
		if err := s.save(); err != nil {
			s.logger.Error().Err(err).Msg("saving statistics failed")
		}
	}
}

func (s *Storage) currentMonth() string {
	return s.now().Format("2006-01")
}

// requestWrite never blocks; a pending write absorbs further requests.
func (s *Storage) requestWrite() {
	select {
	case s.writeBuffer <- struct{}{}:
	default:
	}
}

// Record adds d to the current month's counters
func (s *Storage) Record(d Delta) {
	month := s.currentMonth()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	m, ok := s.stats[month]
	if !ok {
		m = &MonthlyStats{}
		s.stats[month] = m
	}
	m.Analyses += d.Analyses
	m.FailedAnalyses += d.FailedAnalyses
	m.DegradedAnalyzers += d.DegradedAnalyzers
	m.LinkProbes += d.LinkProbes
	m.BrokenLinks += d.BrokenLinks
	m.ProviderFallbacks += d.ProviderFallbacks
	m.LastUpdated = s.now()

	if s.filePath != "" && s.now().Sub(s.lastWrite) > time.Minute {
		s.requestWrite()
		s.lastWrite = s.now()
	}
}

// GetCurrentStats returns the counters for the current month
func (s *Storage) GetCurrentStats() MonthlyStats {
	month := s.currentMonth()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if m, ok := s.stats[month]; ok {
		return *m
	}
	return MonthlyStats{}
}

// GetMonthlyStats returns the counters for a "YYYY-MM" key
func (s *Storage) GetMonthlyStats(yearMonth string) (MonthlyStats, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if m, ok := s.stats[yearMonth]; ok {
		return *m, true
	}
	return MonthlyStats{}, false
}

// GetAllMonths returns every month with counters, newest first.
func (s *Storage) GetAllMonths() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	months := make([]string, 0, len(s.stats))
	for month := range s.stats {
		months = append(months, month)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months
}

// Cleanup keeps the current month plus the retainMonths before it.
func (s *Storage) Cleanup(retainMonths int) {
	now := s.now()
	// month arithmetic from the 1st so the 29th-31st never roll forward
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	keep := make(map[string]bool, retainMonths+1)
	for i := 0; i <= retainMonths; i++ {
		keep[first.AddDate(0, -i, 0).Format("2006-01")] = true
	}

	s.mutex.Lock()
	removed := 0
	for key := range s.stats {
		if !keep[key] {
			delete(s.stats, key)
			removed++
		}
	}
	s.mutex.Unlock()

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Int("retain_months", retainMonths).Msg("pruned statistics")
		s.requestWrite()
	}
}

// Shutdown stops the background writer and flushes counters to disk
func (s *Storage) Shutdown() error {
	if s.filePath == "" {
		return nil
	}
	s.stopOnce.Do(func() { close(s.done) })
	<-s.stopped
	return s.save()
}
