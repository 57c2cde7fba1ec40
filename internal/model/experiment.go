package model

import "time"

// Experiment is a named container grouping related jobs. Deleting an
// experiment deletes all of its jobs.
type Experiment struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
