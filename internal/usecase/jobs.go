package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/queue"
	"RSIndex/pkg/util"

	"github.com/google/uuid"
)

// Queue message types.
const (
	JobMomentumRank      = "momentum.rank"
	JobConstituentsBuild = "constituents.build"
	JobIndexBuild        = "index.build"
)

type momentumJob struct{ uc *MomentumRanking }

func (momentumJob) Name() string { return "momentum ranking" }
func (momentumJob) Type() string { return JobMomentumRank }

func (j momentumJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[models.MomentumJobRequest](payload)
	if err != nil {
		return err
	}
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return err
	}
	_, err = j.uc.Run(ctx, from, to)
	return err
}

type constituentsJob struct{ uc *ConstituentBuilder }

func (constituentsJob) Name() string { return "constituent build" }
func (constituentsJob) Type() string { return JobConstituentsBuild }

func (j constituentsJob) Handle(ctx context.Context, _ json.RawMessage) error {
	_, err := j.uc.Run(ctx)
	return err
}

type indexJob struct{ b *IndexBuilder }

func (indexJob) Name() string { return "index build" }
func (indexJob) Type() string { return JobIndexBuild }

func (j indexJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[models.IndexJobRequest](payload)
	if err != nil {
		return err
	}
	_, err = runIndexRequest(ctx, j.b, *req)
	return err
}

func runIndexRequest(ctx context.Context, b *IndexBuilder, req models.IndexJobRequest) ([]IndexResult, error) {
	switch {
	case req.IndexType != "" && req.IndexCode != "":
		res, err := b.Build(ctx, models.IndexKey{IndexType: req.IndexType, IndexCode: req.IndexCode})
		if err != nil {
			return nil, err
		}
		return []IndexResult{*res}, nil
	case req.IndexType != "":
		return b.BuildAll(ctx, req.IndexType)
	case req.IndexCode != "":
		return nil, fmt.Errorf("%w: index_code %q needs index_type", models.ErrInvalidRequest, req.IndexCode)
	default:
		return b.BuildConfigured(ctx)
	}
}

// Jobs routes recomputation requests to the queue when one is configured and runs them
// in the caller's goroutine otherwise.
type Jobs struct {
	queue        drepo.JobQueue
	momentum     *MomentumRanking
	constituents *ConstituentBuilder
	indices      *IndexBuilder
	log          *logger.Logger
}

func NewJobs(q drepo.JobQueue, m *MomentumRanking, c *ConstituentBuilder, i *IndexBuilder, log *logger.Logger) *Jobs {
	return &Jobs{queue: q, momentum: m, constituents: c, indices: i, log: log.With(logger.String("component", "jobs"))}
}

// Handlers returns the queue jobs backed by the same use cases.
func (j *Jobs) Handlers() []queue.Job {
	return []queue.Job{momentumJob{j.momentum}, constituentsJob{j.constituents}, indexJob{j.indices}}
}

func (j *Jobs) Momentum(ctx context.Context, req models.MomentumJobRequest) (*models.JobAccepted, error) {
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	if j.queue != nil {
		return j.enqueue(ctx, JobMomentumRank, req)
	}
	n, err := j.momentum.Run(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &models.JobAccepted{JobID: uuid.NewString(), Type: JobMomentumRank, Rows: n}, nil
}

func (j *Jobs) Constituents(ctx context.Context) (*models.JobAccepted, error) {
	if j.queue != nil {
		return j.enqueue(ctx, JobConstituentsBuild, struct{}{})
	}
	report, err := j.constituents.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &models.JobAccepted{JobID: uuid.NewString(), Type: JobConstituentsBuild, Rows: report.Rows}, nil
}

func (j *Jobs) Indices(ctx context.Context, req models.IndexJobRequest) (*models.JobAccepted, error) {
	if req.IndexCode != "" && req.IndexType == "" {
		return nil, fmt.Errorf("%w: index_code %q needs index_type", models.ErrInvalidRequest, req.IndexCode)
	}
	if j.queue != nil {
		return j.enqueue(ctx, JobIndexBuild, req)
	}
	results, err := runIndexRequest(ctx, j.indices, req)
	if err != nil {
		return nil, err
	}
	rows := 0
	for _, r := range results {
		rows += r.Points
	}
	return &models.JobAccepted{JobID: uuid.NewString(), Type: JobIndexBuild, Rows: rows}, nil
}

func (j *Jobs) enqueue(ctx context.Context, typ string, payload interface{}) (*models.JobAccepted, error) {
	id, err := j.queue.Enqueue(ctx, typ, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", typ, err)
	}
	j.log.Info("job queued", logger.String("type", typ), logger.String("job_id", id))
	return &models.JobAccepted{JobID: id, Type: typ, Queued: true}, nil
}

// parseRange parses a required from date and an optional to date.
func parseRange(from, to string) (time.Time, time.Time, error) {
	f, err := util.ParseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", models.ErrInvalidRequest, err)
	}
	var t time.Time
	if to != "" {
		if t, err = util.ParseDate(to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", models.ErrInvalidRequest, err)
		}
		if t.Before(f) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: to %s is before from %s", models.ErrInvalidRequest, to, from)
		}
	}
	return f, t, nil
}
