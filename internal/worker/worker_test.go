package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/classpulse/backend/pkg/queue"
)

func TestProcessRejectsUnknownJobType(t *testing.T) {
	p := NewMutationProcessor(nil, nil, nil, nil)
	err := p.Process(context.Background(), &queue.Job{ID: "j1", Type: "bogus"})
	require.ErrorContains(t, err, "unknown job type")
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	p := NewMutationProcessor(nil, nil, nil, nil)
	for _, jt := range []queue.JobType{
		queue.JobTypePollCreate,
		queue.JobTypePollResponse,
		queue.JobTypePollComplete,
		queue.JobTypeUserUpsert,
	} {
		err := p.Process(context.Background(), &queue.Job{ID: "j1", Type: jt, Payload: json.RawMessage(`{`)})
		require.ErrorContains(t, err, "unmarshal payload")
	}
}
