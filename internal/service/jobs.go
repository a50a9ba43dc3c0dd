// jobs.go — просмотр и отмена фоновых задач с проверкой прав по исследованию.
package service

import (
	"context"
	"fmt"

	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/jobs"
)

// JobService — доступ к фоновым задачам.
type JobService struct {
	runner jobs.Runner
	access *AccessService
}

// NewJobService создаёт сервис задач.
func NewJobService(runner jobs.Runner, accessSvc *AccessService) *JobService {
	return &JobService{runner: runner, access: accessSvc}
}

// Get возвращает задачу, если субъект — владелец её исследования.
func (s *JobService) Get(ctx context.Context, p access.Principal, id string) (*jobs.Job, error) {
	job, ok := s.runner.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: задача %s", ErrNotFound, id)
	}
	if _, _, err := s.access.Authorize(ctx, p, job.StudyID, NeedOwner); err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel отменяет задачу. Доступно только куратору.
func (s *JobService) Cancel(ctx context.Context, p access.Principal, id string) (*jobs.Job, error) {
	job, ok := s.runner.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: задача %s", ErrNotFound, id)
	}
	if _, _, err := s.access.Authorize(ctx, p, job.StudyID, NeedCurator); err != nil {
		return nil, err
	}
	if err := s.runner.Cancel(id); err != nil {
		return nil, err
	}
	job, _ = s.runner.Get(id)
	return job, nil
}
