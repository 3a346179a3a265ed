package api

import (
	"github.com/spikeraster/server/internal/service"
)

// DatasetSource is where a dataset's payload is read from.
type DatasetSource struct {
	Path   string
	Format string
}

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	State service.State `json:"state"`
}

// DatasetRegistry holds raster services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.RasterService
	sources        map[string]DatasetSource
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.RasterService),
		sources:        make(map[string]DatasetSource),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a raster service and its payload source for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.RasterService, src DatasetSource) {
	r.services[datasetID] = svc
	r.sources[datasetID] = src
}

// Get returns the raster service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.RasterService {
	return r.services[datasetID]
}

// Source returns the configured payload source of a dataset.
func (r *DatasetRegistry) Source(datasetID string) (DatasetSource, bool) {
	src, ok := r.sources[datasetID]
	return src, ok
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Spike Raster"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		info := DatasetInfo{ID: id, Name: id, State: service.StateUninitialized}
		if svc := r.services[id]; svc != nil {
			info.State = svc.State()
		}
		infos = append(infos, info)
	}
	return infos
}
