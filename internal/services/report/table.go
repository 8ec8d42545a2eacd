// Package report renders run results as terminal tables, YAML reports and
// Prometheus textfile metrics.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/hardware"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// WriteSummary prints one row per node and the status totals.
func WriteSummary(w io.Writer, summary models.Summary) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NODE\tCTID\tIP\tSTATUS\tSTAGE\tDURATION\tROOT PASSWORD\tWEB PASSWORD\tREASON")
	for _, r := range summary.Results {
		reason := ""
		if r.Error != nil {
			reason = r.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Node.Name, r.Container.ID, r.Container.IP, r.Status, r.Stage,
			r.Duration.Round(time.Second), r.Container.RootPassword, r.Container.WebPassword, reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	success, partial, failed := summary.Counts()
	_, err := fmt.Fprintf(w, "\n%d succeeded, %d partial, %d failed in %s (run %s)\n",
		success, partial, failed, summary.Duration.Round(time.Second), summary.RunID)
	return err
}

// WritePools prints the pools reported by zpool list.
func WritePools(w io.Writer, pools []models.Pool) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "POOL\tSIZE\tALLOC\tFREE\tHEALTH")
	for _, p := range pools {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name,
			hardware.FormatBytes(p.Size), hardware.FormatBytes(p.Alloc), hardware.FormatBytes(p.Free), p.Health)
	}
	return tw.Flush()
}

// WriteProperties prints property values in the order of names.
func WriteProperties(w io.Writer, dataset string, names []string, props map[string]models.Property) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "PROPERTY (%s)\tVALUE\tSOURCE\n", dataset)
	for _, name := range names {
		p, ok := props[name]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, p.Value, p.Source)
	}
	return tw.Flush()
}

// WritePropertyResults prints the outcome of a configurator flow.
func WritePropertyResults(w io.Writer, results []models.PropertyResult) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "PROPERTY\tVALUE\tSTATUS\tDETAIL")
	for _, r := range results {
		detail := r.Output
		if r.Error != nil {
			detail = r.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Property, r.Value, r.Status, detail)
	}
	return tw.Flush()
}

// WriteHostItems prints the outcome of the post-install tuning items.
func WriteHostItems(w io.Writer, results []models.HostItemResult) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ITEM\tSTATUS\tCHANGED\tDETAIL")
	for _, r := range results {
		detail := r.Output
		if r.Error != nil {
			detail = r.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Item, r.Status, r.Changed, detail)
	}
	return tw.Flush()
}
