package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewChunkID generates a unique chunk ID with the "chunk_" prefix
func NewChunkID() string {
	return "chunk_" + uuid.New().String()
}

// NewTaskID generates a unique enrichment task ID with the "task_" prefix
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewLinkID generates a unique link ID with the "link_" prefix
func NewLinkID() string {
	return "link_" + uuid.New().String()
}

// NewProductID generates a unique product ID with the "prod_" prefix
func NewProductID() string {
	return "prod_" + uuid.New().String()
}
