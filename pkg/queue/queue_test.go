package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rankJob struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func TestParsePayload(t *testing.T) {
	got, err := ParsePayload[rankJob](json.RawMessage(`{"from":"2024-01-02","to":"2024-03-29"}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", got.From)

	empty, err := ParsePayload[rankJob](nil)
	require.NoError(t, err)
	assert.Equal(t, rankJob{}, *empty)

	_, err = ParsePayload[rankJob](json.RawMessage(`[`))
	assert.Error(t, err)
}

func TestNewRedisQueueDefaults(t *testing.T) {
	q := NewRedisQueue(nil, Config{}, nil)
	assert.Equal(t, "rsindex:queue:messages", q.key("messages"))
	assert.Positive(t, int64(q.cfg.RetryDelay))
}
