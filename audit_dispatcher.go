package goToken

import "github.com/MrEthical07/goToken/internal/audit"

type auditDispatcher = audit.Dispatcher

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Enabled,
		BufferSize:  cfg.BufferSize,
		DropIfFull:  cfg.DropIfFull,
		SinkTimeout: cfg.SinkTimeout,
	}, sink)
}
