package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/wolfeidau/taskhub/internal/admin"
)

type ReportCmd struct {
	Concurrency int        `help:"organizations counted in parallel" default:"4"`
	Format      string     `help:"output format" default:"table" enum:"table,json"`
	Store       StoreFlags `embed:""`
}

func (c *ReportCmd) Run(ctx context.Context, globals *Globals) error {
	ctx = withLogger(ctx, globals)

	repos, closeStore, err := c.Store.open(ctx, globals)
	if err != nil {
		return err
	}
	defer closeStore()

	stats, err := admin.NewReporter(repos.orgs, repos.users, repos.tasks, c.Concurrency).TenantReport(ctx)
	if err != nil {
		return err
	}

	return writeReport(os.Stdout, c.Format, stats)
}

func writeReport(w io.Writer, format string, stats []admin.OrganizationStats) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORGANIZATION\tUSERS\tOPEN\tCOMPLETED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Name, s.Users, s.OpenTasks, s.CompletedTasks)
	}
	return tw.Flush()
}
