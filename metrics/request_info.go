package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type requestMetricKey struct{}

// RequestMetric tracks one transaction's lifecycle for the access-log
// line.
type RequestMetric struct {
	StartAt           time.Time
	RequestID         string
	ReqHdrLen         int64
	RecvReq           uint64
	RespHdrLen        int64
	SentResp          uint64
	StoreUrl          string
	RemoteAddr        string
	FirstResponseTime time.Time
}

// WithRequestMetric stamps a fresh RequestMetric onto ctx, returning the
// derived context and the metric so the caller can keep updating it as
// the transaction progresses.
func WithRequestMetric(ctx context.Context, remoteAddr string) (context.Context, *RequestMetric) {
	metric := &RequestMetric{
		StartAt:    time.Now(),
		RequestID:  uuid.NewString(),
		RemoteAddr: remoteAddr,
	}
	return newContext(ctx, metric), metric
}

// FromContext returns the metric stamped by WithRequestMetric, or a
// zero-value one if ctx carries none.
func FromContext(ctx context.Context) *RequestMetric {
	if v, ok := ctx.Value(requestMetricKey{}).(*RequestMetric); ok {
		return v
	}
	return &RequestMetric{}
}

func newContext(ctx context.Context, metric *RequestMetric) context.Context {
	return context.WithValue(ctx, requestMetricKey{}, metric)
}
