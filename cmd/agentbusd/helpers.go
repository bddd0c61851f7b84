package main

import (
	"context"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/agentbus/governance/audit"
	"github.com/R3E-Network/agentbus/governance/metering"
)

// queueService adapts audit.Queue/metering.Queue's Start(ctx)/Stop() shape
// (no error returns, since a flush loop has nowhere to report startup
// failure) to applications/system.Service's Start(ctx) error/Stop(ctx) error.
type queueService struct {
	name  string
	start func(ctx context.Context)
	stop  func()
}

func (s queueService) Name() string { return s.name }

func (s queueService) Start(ctx context.Context) error {
	go s.start(ctx)
	return nil
}

func (s queueService) Stop(ctx context.Context) error {
	s.stop()
	return nil
}

func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// logAuditSink anchors audit entries to structured logs. It is the default
// sink wired when no external audit backend is configured; operators
// wanting durable anchoring should supply their own audit.Sink.
type logAuditSink struct{}

func (logAuditSink) Name() string { return "log" }

func (logAuditSink) Anchor(ctx context.Context, entry audit.Entry) error {
	logrus.WithFields(logrus.Fields{
		"message_id": entry.MessageID,
		"decision":   entry.Decision,
		"lane":       entry.RoutingLane,
		"score":      entry.Score,
	}).Info("audit: entry anchored")
	return nil
}

// logMeteringSink records usage events to structured logs. Default sink
// until a real billing backend is wired.
type logMeteringSink struct{}

func (logMeteringSink) Record(ctx context.Context, events []metering.Event) error {
	for _, e := range events {
		logrus.WithFields(logrus.Fields{
			"tenant_id": e.TenantID,
			"agent_id":  e.AgentID,
			"operation": e.Operation,
			"quantity":  e.Quantity,
		}).Info("metering: event recorded")
	}
	return nil
}
