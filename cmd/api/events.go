package main

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/member-qa/engine/qa"
	"github.com/WessleyAI/member-qa/pkg/natsutil"
)

// NATS subjects.
const (
	subjectRefresh   = "memberqa.refresh"
	subjectRefreshed = "memberqa.index.refreshed"
)

// RefreshRequest is the optional payload on memberqa.refresh. An empty
// message also triggers a refresh.
type RefreshRequest struct {
	Reason string `json:"reason,omitempty"`
}

// natsSink publishes refresh outcomes.
type natsSink struct {
	pub natsutil.MsgPublisher
}

func (s natsSink) RefreshCompleted(ctx context.Context, ev qa.RefreshEvent) error {
	return natsutil.Publish(ctx, s.pub, subjectRefreshed, ev)
}

// subscribeRefresh refreshes the index whenever a message lands on
// memberqa.refresh.
func subscribeRefresh(nc *nats.Conn, svc service, logger *slog.Logger) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, subjectRefresh, logger, func(ctx context.Context, req RefreshRequest) {
		logger.Info("refresh requested over nats", "reason", req.Reason)
		if _, err := svc.Refresh(ctx, "nats"); err != nil {
			logger.Warn("refresh via nats failed", "err", err)
		}
	})
}
