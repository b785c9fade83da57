package engine

import (
	stderrs "errors"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/metrics"
)

const subsystem = "engine"

var (
	messagesTotal = metrics.NewCounter(
		"messages_total",
		subsystem,
		"Number of inbound envelopes, by mode",
		[]string{"mode"},
	)
	errorsTotal = metrics.NewCounter(
		"errors_total",
		subsystem,
		"Number of failed requests, by error kind",
		[]string{"kind"},
	)
	filesMerged = metrics.NewCounter(
		"files_merged_total",
		subsystem,
		"Number of file records pushed into the pool",
		[]string{},
	).WithLabelValues()
	filesServed = metrics.NewCounter(
		"files_served_total",
		subsystem,
		"Number of file records sent in reply to pulls",
		[]string{},
	).WithLabelValues()
)

func modeLabel(m studentsync.Mode) string {
	if !m.Valid() {
		return "unknown"
	}
	return m.String()
}

func errorKind(err error) string {
	switch {
	case stderrs.Is(err, studentsync.ErrDecode):
		return "decode"
	case stderrs.Is(err, studentsync.ErrUnknownClient):
		return "unknown_client"
	case stderrs.Is(err, studentsync.ErrUnknownMode):
		return "unknown_mode"
	}
	return "internal"
}
