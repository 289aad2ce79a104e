package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/repository"
	"RSIndex/internal/services/indexing"
	"RSIndex/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobs(t *testing.T, s *repository.MemoryStore, q *fakeQueue) *Jobs {
	t.Helper()
	m := newRanking(t, s, nil)
	c := newBuilder(t, s, date(2024, 2, 1), nil)
	i := NewIndexBuilder(s, s, s, indexing.NewCompounder(100), nil, IndexSettings{Parent: parentKey}, nil, nil, logger.Nop())
	if q == nil {
		return NewJobs(nil, m, c, i, logger.Nop())
	}
	return NewJobs(q, m, c, i, logger.Nop())
}

func TestJobsQueueWhenConfigured(t *testing.T) {
	q := &fakeQueue{}
	jobs := newJobs(t, repository.NewMemoryStore(), q)
	ctx := context.Background()

	acc, err := jobs.Momentum(ctx, models.MomentumJobRequest{From: "2024-03-01", To: "2024-03-08"})
	require.NoError(t, err)
	assert.True(t, acc.Queued)
	assert.Equal(t, "job-"+JobMomentumRank, acc.JobID)

	_, err = jobs.Constituents(ctx)
	require.NoError(t, err)
	_, err = jobs.Indices(ctx, models.IndexJobRequest{IndexType: "industry"})
	require.NoError(t, err)

	require.Len(t, q.msgs, 3)
	assert.Equal(t, JobConstituentsBuild, q.msgs[1].Type)
	var req models.IndexJobRequest
	require.NoError(t, json.Unmarshal(q.msgs[2].Payload, &req))
	assert.Equal(t, "industry", req.IndexType)
}

func TestJobsRejectInvalidRequests(t *testing.T) {
	q := &fakeQueue{}
	jobs := newJobs(t, repository.NewMemoryStore(), q)
	ctx := context.Background()

	_, err := jobs.Momentum(ctx, models.MomentumJobRequest{From: "yesterday"})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	_, err = jobs.Momentum(ctx, models.MomentumJobRequest{From: "2024-03-08", To: "2024-03-01"})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	_, err = jobs.Indices(ctx, models.IndexJobRequest{IndexCode: "G1"})
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
	assert.Empty(t, q.msgs)
}

func TestJobsRunInlineWithoutQueue(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 6)
	seed(s, dates, map[string][]float64{"A": {1, 2, 3, 4, 5, 6}, "B": {6, 5, 4, 3, 2, 1}})
	jobs := newJobs(t, s, nil)

	acc, err := jobs.Momentum(context.Background(), models.MomentumJobRequest{From: "2024-03-04"})
	require.NoError(t, err)
	assert.False(t, acc.Queued)
	assert.Equal(t, 4, acc.Rows)
	assert.NotEmpty(t, acc.JobID)
}

func TestQueueHandlersDecodePayloads(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 6)
	seed(s, dates, map[string][]float64{"A": {1, 2, 3, 4, 5, 6}, "B": {6, 5, 4, 3, 2, 1}})
	jobs := newJobs(t, s, nil)

	handlers := jobs.Handlers()
	require.Len(t, handlers, 3)
	assert.Equal(t, JobMomentumRank, handlers[0].Type())

	err := handlers[0].Handle(context.Background(), json.RawMessage(`{"from":"2024-03-04","to":"2024-03-11"}`))
	require.NoError(t, err)
	rows, err := s.ListMomentumScores(context.Background(), models.RankingQuery{})
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// no constituents stored: nothing to rebuild
	assert.NoError(t, handlers[2].Handle(context.Background(), json.RawMessage(`{}`)))
	assert.Error(t, handlers[0].Handle(context.Background(), json.RawMessage(`{"from":"bad"}`)))
}

func TestPricesUpdatedHandlerSchedulesRankingAndRebuild(t *testing.T) {
	q := &fakeQueue{}
	h := NewPricesUpdatedHandler("prices.updated", newJobs(t, repository.NewMemoryStore(), q), nil, logger.Nop())
	ctx := context.Background()
	assert.Equal(t, "prices.updated", h.Topic())

	require.NoError(t, h.Handle(ctx, []byte(`{"codes":["A"],"from":"2024-03-01","to":"2024-03-05"}`)))
	require.Len(t, q.msgs, 2)
	assert.Equal(t, JobMomentumRank, q.msgs[0].Type)
	assert.Equal(t, JobIndexBuild, q.msgs[1].Type)
	assert.JSONEq(t, `{"index_type":"","index_code":""}`, string(q.msgs[1].Payload))

	require.NoError(t, h.Handle(ctx, []byte(`not json`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"from":"soon"}`)))
	assert.Len(t, q.msgs, 2)
}
