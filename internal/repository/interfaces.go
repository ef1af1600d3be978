package repository

import (
	"queuewatch/internal/dto"
	"queuewatch/internal/model"
)

// ResultRepository defines the interface for archived result operations.
type ResultRepository interface {
	// Create operations
	Insert(res *model.Result) (int64, error)

	// Read operations
	GetByFilename(filename string) (*model.Result, error)
	GetAll(filter *dto.ResultFilters) ([]model.Result, error)
	GetTotalCount(filter *dto.ResultFilters) (int, error)
	GetTotalSize() (int64, error)
	GetOldest(limit int) ([]model.Result, error)
	GetStats() (*model.ResultStats, error)
	Exists(filename string) (bool, error)

	// Delete operations
	Delete(id int64) error
	DeleteAll() error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.Detection) error

	// Read operations
	GetByResultID(resultID int64) ([]model.Detection, error)
	GetLabelsByResultID(resultID int64) ([]string, error)
	GetAllLabels() ([]string, error)
}
