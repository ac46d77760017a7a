package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
)

const timeLayout = "2006-01-02 15:04:05"

func formatEpoch(epoch int64) string {
	if epoch == 0 {
		return "-"
	}
	return time.Unix(epoch, 0).Format(timeLayout)
}

/**
prints each job log line once, however many snapshots or pushes it turns up in
*/
type logPrinter struct {
	out   io.Writer
	mutex sync.Mutex
	seen  map[string]struct{}
}

func newLogPrinter(out io.Writer) *logPrinter {
	return &logPrinter{out: out, seen: make(map[string]struct{})}
}

func logLineKey(jobId string, line models.JobLog) string {
	if line.Id != 0 {
		return fmt.Sprintf("%s#%d", jobId, line.Id)
	}
	return fmt.Sprintf("%s@%d:%s", jobId, line.CreatedAt, line.Line)
}

func (p *logPrinter) PrintNew(job models.Job) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	printed := 0
	for _, line := range job.Logs {
		key := logLineKey(job.Id, line)
		if _, done := p.seen[key]; done {
			continue
		}
		p.seen[key] = struct{}{}
		fmt.Fprintf(p.out, "[job %s] %s\n", job.Id, line.Line)
		printed++
	}
	return printed
}

func printJobTable(out io.Writer, jobs []models.Job) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tNAME\tCREATED\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.Id, j.Status, j.Name, formatEpoch(j.CreatedAt), formatEpoch(j.UpdatedAt))
	}
	return w.Flush()
}
