package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
)

// TaskService manages the tasks of the current organization.
type TaskService struct {
	tasks *store.Repository[*models.Task]
}

// NewTaskService creates a task service.
func NewTaskService(tasks *store.Repository[*models.Task]) *TaskService {
	return &TaskService{tasks: tasks}
}

// TaskInput holds the editable fields of a task.
type TaskInput struct {
	Title       string
	Description string
	Completed   bool
	Priority    int
	Deadline    time.Time
	AssignedTo  *uuid.UUID
}

func (in TaskInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title is required")
	}
	if in.Deadline.IsZero() {
		return invalid("deadline is required")
	}
	if in.Priority < 0 {
		return invalid("priority must not be negative")
	}
	return nil
}

func (in TaskInput) apply(t *models.Task) {
	t.Title = strings.TrimSpace(in.Title)
	t.Description = in.Description
	t.Completed = in.Completed
	t.Priority = in.Priority
	t.Deadline = in.Deadline
	t.AssignedTo = in.AssignedTo
}

// ListFilter narrows a task listing. Nil fields do not filter.
type ListFilter struct {
	Completed  *bool
	AssignedTo *uuid.UUID
}

// List returns the current organization's tasks, soonest deadline first and then by priority.
func (s *TaskService) List(ctx context.Context, filter ListFilter) ([]*models.Task, error) {
	opts := []store.QueryOption{store.OrderBy("deadline"), store.OrderBy("priority")}
	if filter.Completed != nil {
		opts = append(opts, store.Where("completed", *filter.Completed))
	}
	if filter.AssignedTo != nil {
		opts = append(opts, store.Where(models.FieldAssignedTo, *filter.AssignedTo))
	}
	return s.tasks.Query(ctx, opts...)
}

// Get returns one task of the current organization.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.tasks.Get(ctx, id)
}

// Create adds a task to the current organization.
// An assignee from another organization fails with store.ErrCrossTenantReference.
func (s *TaskService) Create(ctx context.Context, in TaskInput) (*models.Task, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	task := &models.Task{}
	in.apply(task)

	created, err := s.tasks.Create(ctx, task)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("task_id", created.ID.String()).Msg("Created task")
	return created, nil
}

// Update replaces the editable fields of a task of the current organization.
func (s *TaskService) Update(ctx context.Context, id uuid.UUID, in TaskInput) (*models.Task, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	return s.tasks.Update(ctx, id, func(t *models.Task) error {
		in.apply(t)
		return nil
	})
}

// Assign sets or, with a nil userID, clears the assignee of a task.
// The assignee must belong to the task's organization.
func (s *TaskService) Assign(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.Update(ctx, id, func(t *models.Task) error {
		t.AssignedTo = userID
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := zerolog.Ctx(ctx).Debug().Str("task_id", id.String())
	if userID != nil {
		evt = evt.Str("assigned_to", userID.String())
	}
	evt.Msg("Assigned task")

	return task, nil
}

// Complete marks a task done.
func (s *TaskService) Complete(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.tasks.Update(ctx, id, func(t *models.Task) error {
		t.Completed = true
		return nil
	})
}

// Delete removes a task of the current organization.
func (s *TaskService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tasks.Delete(ctx, id)
}
