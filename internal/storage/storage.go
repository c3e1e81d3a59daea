package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// TargetRecord tracks one store through a batch run.
type TargetRecord struct {
	StoreID   string    `json:"store_id"`
	Status    string    `json:"status"` // pending, processing, completed, failed
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Images    int       `json:"images,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// TargetLedger is a file-backed map of targets and their progress. Every
// mutation is flushed, so a killed run resumes where it stopped.
type TargetLedger struct {
	mu       sync.RWMutex
	targets  map[string]*TargetRecord
	filename string
}

func NewTargetLedger(filename string) (*TargetLedger, error) {
	l := &TargetLedger{
		targets:  make(map[string]*TargetRecord),
		filename: filename,
	}

	if err := l.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return l, nil
}

func (l *TargetLedger) Add(storeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if storeID == "" {
		return fmt.Errorf("store ID is required")
	}

	if _, exists := l.targets[storeID]; exists {
		return nil
	}

	now := time.Now()
	l.targets[storeID] = &TargetRecord{
		StoreID:   storeID,
		Status:    "pending",
		AddedAt:   now,
		UpdatedAt: now,
	}
	return l.save()
}

func (l *TargetLedger) AddBatch(storeIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, id := range storeIDs {
		if id == "" {
			continue
		}
		if _, exists := l.targets[id]; exists {
			continue
		}
		l.targets[id] = &TargetRecord{
			StoreID:   id,
			Status:    "pending",
			AddedAt:   now,
			UpdatedAt: now,
		}
	}

	return l.save()
}

func (l *TargetLedger) Get(storeID string) (*TargetRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, exists := l.targets[storeID]
	return rec, exists
}

// GetPending returns the store IDs not yet completed or failed.
func (l *TargetLedger) GetPending() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var pending []string
	for _, rec := range l.targets {
		if rec.Status == "pending" {
			pending = append(pending, rec.StoreID)
		}
	}
	return pending
}

func (l *TargetLedger) UpdateStatus(storeID, status string, images int, errorMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, exists := l.targets[storeID]
	if !exists {
		return fmt.Errorf("target not found: %s", storeID)
	}

	rec.Status = status
	rec.UpdatedAt = time.Now()
	rec.Images = images
	rec.Error = errorMsg

	return l.save()
}

func (l *TargetLedger) GetStats() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]int)
	for _, rec := range l.targets {
		stats[rec.Status]++
	}
	stats["total"] = len(l.targets)
	return stats
}

func (l *TargetLedger) save() error {
	data, err := json.MarshalIndent(l.targets, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := l.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, l.filename)
}

func (l *TargetLedger) Load() error {
	data, err := os.ReadFile(l.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &l.targets)
}

// BatchSummary heads the results file so a human can read the outcome
// without scanning every entry.
type BatchSummary struct {
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	TotalImages int       `json:"total_images"`
	FinishedAt  time.Time `json:"finished_at"`
}

type batchFile struct {
	Summary BatchSummary          `json:"summary"`
	Results []models.ScrapeResult `json:"results"`
}

// WriteResults dumps a finished batch to a JSON file, temp-and-rename so
// a crash mid-write leaves no half file.
func WriteResults(filename string, results []models.ScrapeResult) error {
	out := batchFile{
		Summary: Summarize(results),
		Results: results,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if err := os.Rename(tmpFile, filename); err != nil {
		return fmt.Errorf("failed to finalize results: %w", err)
	}

	return nil
}

func Summarize(results []models.ScrapeResult) BatchSummary {
	s := BatchSummary{
		Total:      len(results),
		FinishedAt: time.Now(),
	}
	for i := range results {
		if results[i].Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.TotalImages += len(results[i].Images)
	}
	return s
}
