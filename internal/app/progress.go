package app

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/sheerbytes/relaydrop/internal/progress"
	"github.com/sheerbytes/relaydrop/internal/transfer"
)

const progressUpdateInterval = 250 * time.Millisecond

// progressReporter prints throttled progress lines from status snapshots.
type progressReporter struct {
	out     io.Writer
	label   string
	meter   *progress.Meter
	every   rate.Sometimes
	started bool
	last    uint64
}

func newProgressReporter(out io.Writer, label string) *progressReporter {
	return &progressReporter{
		out:   out,
		label: label,
		meter: progress.NewMeter(),
		every: rate.Sometimes{Interval: progressUpdateInterval},
	}
}

// Update is a Hooks.OnStatus callback.
func (p *progressReporter) Update(st transfer.Status) {
	if !st.Transferring {
		return
	}
	if !p.started {
		p.started = true
		p.meter.Start(st.TotalSize)
	}
	p.meter.SetTotal(st.TotalSize)
	if st.UploadedBytes == p.last {
		return
	}
	p.last = st.UploadedBytes
	p.meter.Observe(st.UploadedBytes)
	p.every.Do(func() {
		fmt.Fprintln(p.out, progress.Line(p.label, p.meter.Snapshot()))
	})
}

// hook returns Update, or nil when intermediate lines are disabled.
func (p *progressReporter) hook(disabled bool) func(transfer.Status) {
	if disabled {
		return nil
	}
	return p.Update
}

// Finish prints the final line for a session that ended with st.
func (p *progressReporter) Finish(st transfer.Status) {
	switch {
	case st.Completed:
		stats := p.meter.Snapshot()
		stats.BytesDone, stats.Total, stats.Percent, stats.ETA = st.TotalSize, st.TotalSize, 100, 0
		fmt.Fprintln(p.out, progress.Line(p.label, stats))
	case st.Canceled:
		fmt.Fprintf(p.out, "%s canceled: %s\n", p.label, st.Message)
	case st.Error:
		fmt.Fprintf(p.out, "%s failed: %s\n", p.label, st.Message)
	}
}
