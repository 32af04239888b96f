package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

func TestChannelSink_EmitAndReceive(t *testing.T) {
	sink := NewChannelSink(1)
	batch := domain.ControlBatch{Ints: []domain.SetIntValue{{PointID: 1, YkCommand: 1}}}

	require.NoError(t, sink.Emit(context.Background(), batch))
	select {
	case got := <-sink:
		assert.Equal(t, batch, got)
	default:
		t.Fatal("expected batch on channel")
	}
}

func TestChannelSink_EmitRespectsCancellation(t *testing.T) {
	sink := NewChannelSink(0) // unbuffered: the send below has no reader, so it blocks
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.Emit(ctx, domain.ControlBatch{})
	assert.ErrorIs(t, err, domain.ErrCanceled)
}

func TestFetchActionSpec_DecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spec := domain.ActionSpec{Kind: domain.ActionSetPoints, Assignments: []domain.PointAssignment{{PointAlias: "x", Expr: "1"}}}
		_ = json.NewEncoder(w).Encode(spec)
	}))
	defer srv.Close()

	spec, err := FetchActionSpec(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSetPoints, spec.Kind)
	require.Len(t, spec.Assignments, 1)
	assert.Equal(t, "x", spec.Assignments[0].PointAlias)
}

func TestFetchActionSpec_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := FetchActionSpec(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
}
