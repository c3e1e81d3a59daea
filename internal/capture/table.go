package capture

import (
	"sync"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// Table is the in-memory capture store shared by the interceptor's
// response callbacks and the orchestrator's polling loop. The callbacks
// run on playwright's event goroutines, so every access takes the lock.
type Table struct {
	mu        sync.RWMutex
	responses map[string]models.CapturedResponse
	images    map[string][]models.ExtractedImage
	hashes    map[string]map[string]struct{}
}

func NewTable() *Table {
	return &Table{
		responses: make(map[string]models.CapturedResponse),
		images:    make(map[string][]models.ExtractedImage),
		hashes:    make(map[string]map[string]struct{}),
	}
}

func responseKey(storeID string, apiType models.APIType) string {
	return storeID + "_" + string(apiType)
}

// Clear drops every capture for a target so a retry pass cannot read
// stale data from the previous attempt.
func (t *Table) Clear(storeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, apiType := range []models.APIType{
		models.APITypeCredential, models.APITypeLicense, models.APITypeCertificate,
		models.APITypeQualification, models.APITypeShopInfo, models.APITypeUnknown,
	} {
		delete(t.responses, responseKey(storeID, apiType))
	}
	delete(t.images, storeID)
	delete(t.hashes, storeID)
}

// PutResponse records a captured response. A duplicate API type for the
// same target within one attempt overwrites the earlier capture.
func (t *Table) PutResponse(storeID string, r models.CapturedResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[responseKey(storeID, r.APIType)] = r
}

// AddImage records an extracted image, deduplicating by content hash per
// target. It reports whether the image was new.
func (t *Table) AddImage(img models.ExtractedImage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen, ok := t.hashes[img.StoreID]
	if !ok {
		seen = make(map[string]struct{})
		t.hashes[img.StoreID] = seen
	}
	if _, dup := seen[img.ContentHash]; dup {
		return false
	}
	seen[img.ContentHash] = struct{}{}
	t.images[img.StoreID] = append(t.images[img.StoreID], img)
	return true
}

// ResponsesFor snapshots the captured responses for one target, keyed by
// API type.
func (t *Table) ResponsesFor(storeID string) map[string]models.CapturedResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]models.CapturedResponse)
	for _, apiType := range []models.APIType{
		models.APITypeCredential, models.APITypeLicense, models.APITypeCertificate,
		models.APITypeQualification, models.APITypeShopInfo, models.APITypeUnknown,
	} {
		if r, ok := t.responses[responseKey(storeID, apiType)]; ok {
			out[string(apiType)] = r
		}
	}
	return out
}

// ImagesFor snapshots the extracted images for one target.
func (t *Table) ImagesFor(storeID string) []models.ExtractedImage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	imgs := t.images[storeID]
	out := make([]models.ExtractedImage, len(imgs))
	copy(out, imgs)
	return out
}

// HasResponse reports whether a capture of the given API type exists for
// the target. The orchestrator polls this while waiting for the
// credential call to land.
func (t *Table) HasResponse(storeID string, apiType models.APIType) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.responses[responseKey(storeID, apiType)]
	return ok
}
