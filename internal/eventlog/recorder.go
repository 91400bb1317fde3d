package eventlog

import (
	"strings"

	"github.com/mogwaid/mogwaid/internal/collab"
	"github.com/mogwaid/mogwaid/internal/scheduler"
)

// Attach wires sch's notifications into l, logging each one with clk's
// current time. Record failures are deliberately swallowed beyond the
// caller-supplied onError hook: a diagnostic log must never be able to
// break scheduling, so a failed write here is reported, not propagated.
func Attach(l *EventLog, sch *scheduler.Scheduler, clk collab.Clock, onError func(error)) {
	report := func(err error) {
		if err != nil && onError != nil {
			onError(err)
		}
	}

	sch.SetOnEntriesChanged(func(added, removed []string) {
		report(l.Record("entries_changed", describe(added, removed), clk.NowLocal()))
	})
	sch.SetOnActiveEntriesChanged(func(added, removed []string) {
		report(l.Record("active_entries_changed", describe(added, removed), clk.NowLocal()))
	})
	sch.SetOnAllowDownloadsChanged(func(allow bool) {
		detail := "false"
		if allow {
			detail = "true"
		}
		report(l.Record("allow_downloads_changed", detail, clk.NowLocal()))
	})
	sch.SetOnEntryFieldChanged(func(id, field string) {
		report(l.Record("entry_field_changed", id+"."+field, clk.NowLocal()))
	})
}

func describe(added, removed []string) string {
	var b strings.Builder
	if len(added) > 0 {
		b.WriteString("added=")
		b.WriteString(strings.Join(added, ","))
	}
	if len(removed) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("removed=")
		b.WriteString(strings.Join(removed, ","))
	}
	return b.String()
}
