package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/metastore-go/internal/cli/connection"
	"github.com/yndnr/metastore-go/internal/cli/output"
	"github.com/yndnr/metastore-go/internal/infra/buildinfo"
)

// ErrNotReady is returned by "system health" when the server is up but not
// ready.
var ErrNotReady = errors.New("server is not ready")

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "System commands",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show server and store status",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check server health and readiness",
				Action: systemHealth,
			},
			{
				Name:   "version",
				Usage:  "Show client version",
				Action: systemVersion,
			},
		},
	}
}

type statusResult connection.Status

func (s statusResult) Table(wide bool) *output.Table {
	t := output.NewTable("STORE", "SNAPSHOT", "LAST CHECKPOINT", "WAL SEQ", "PENDING")
	if wide {
		t = output.NewTable("STORE", "SNAPSHOT", "LAST CHECKPOINT", "WAL SEQ", "PENDING", "CHUNKS", "FLUSH ERRORS", "DISK")
	}
	for _, st := range s.Stores {
		last := ""
		if st.LastCheckpointAt > 0 {
			last = time.UnixMilli(st.LastCheckpointAt).UTC().Format(time.RFC3339)
		}
		if wide {
			t.AddRow(st.Name, st.SnapshotID, last, st.WAL.NextSeq, st.WAL.PendingOps,
				st.WAL.Chunks, st.WAL.FlushErrors, st.Engine.TotalSize)
			continue
		}
		t.AddRow(st.Name, st.SnapshotID, last, st.WAL.NextSeq, st.WAL.PendingOps)
	}
	return t
}

func systemStatus(c *cli.Context) error {
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if f, _ := output.ParseFormat(ParseGlobalFlags(c).Output); f == output.FormatTable {
		fmt.Fprintf(c.App.Writer, "Server: %s (version %s, commit %s)\n\n", client.BaseURL(), st.Build.Version, st.Build.Commit)
	}
	return render(c, statusResult(*st))
}

type healthResult struct {
	Server  string `json:"server"`
	Healthy bool   `json:"healthy"`
	Ready   bool   `json:"ready"`
}

func (h healthResult) Table(bool) *output.Table {
	t := output.NewTable("SERVER", "HEALTHY", "READY")
	t.AddRow(h.Server, h.Healthy, h.Ready)
	return t
}

func systemHealth(c *cli.Context) error {
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	healthy, ready, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := render(c, healthResult{Server: client.BaseURL(), Healthy: healthy, Ready: ready}); err != nil {
		return err
	}
	if !ready {
		return ErrNotReady
	}
	return nil
}

type versionResult buildinfo.Info

func (v versionResult) Table(bool) *output.Table {
	t := output.NewTable("VERSION", "COMMIT", "BUILT", "GO")
	t.AddRow(v.Version, v.Commit, v.BuildTime, v.GoVersion)
	return t
}

func systemVersion(c *cli.Context) error {
	return render(c, versionResult(buildinfo.Get()))
}
