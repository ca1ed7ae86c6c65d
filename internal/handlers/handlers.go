package handlers

import (
	"gorm.io/gorm"

	"github.com/baijum/kanakku-sub001/internal/repository"
	"github.com/baijum/kanakku-sub001/internal/scheduler"
)

// Handlers contains the operational HTTP handlers shared by the
// scheduler and worker processes. The scheduler field is nil in the
// worker process.
type Handlers struct {
	db        *gorm.DB
	store     *repository.Store
	scheduler *scheduler.Scheduler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, store *repository.Store, s *scheduler.Scheduler) *Handlers {
	return &Handlers{db: db, store: store, scheduler: s}
}
