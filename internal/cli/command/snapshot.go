package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/metastore-go/internal/cli/connection"
	"github.com/yndnr/metastore-go/internal/cli/output"
)

// SnapshotCommand returns the snapshot subcommand group.
func SnapshotCommand() *cli.Command {
	storeFlag := &cli.StringFlag{
		Name:  "store",
		Usage: "limit to one store (default: all stores)",
	}
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Snapshot management commands",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List published snapshots",
				Flags:   []cli.Flag{storeFlag},
				Action:  snapshotList,
			},
			{
				Name:    "create",
				Aliases: []string{"checkpoint"},
				Usage:   "Publish a checkpoint now",
				Flags:   []cli.Flag{storeFlag},
				Action:  snapshotCreate,
			},
			{
				Name:   "sweep",
				Usage:  "Run the retention sweep now",
				Flags:  []cli.Flag{storeFlag},
				Action: snapshotSweep,
			},
		},
	}
}

type snapshotInfoList []connection.StoreSnapshots

func (l snapshotInfoList) Table(wide bool) *output.Table {
	t := output.NewTable("STORE", "ID", "CURRENT")
	if wide {
		t = output.NewTable("STORE", "ID", "CURRENT", "CREATED")
	}
	for _, s := range l {
		for _, info := range s.Snapshots {
			current := ""
			if info.Current {
				current = "*"
			}
			if wide {
				created := time.UnixMilli(int64(info.ID)).UTC().Format(time.RFC3339)
				t.AddRow(s.Store, info.ID, current, created)
				continue
			}
			t.AddRow(s.Store, info.ID, current)
		}
	}
	return t
}

type checkpointList []connection.Checkpoint

func (l checkpointList) Table(wide bool) *output.Table {
	t := output.NewTable("STORE", "ID", "DURATION")
	if wide {
		t = output.NewTable("STORE", "ID", "DURATION", "PREFIX")
	}
	for _, cp := range l {
		d := time.Duration(cp.Duration).Round(time.Millisecond)
		if wide {
			t.AddRow(cp.Store, cp.ID, d, cp.Prefix)
			continue
		}
		t.AddRow(cp.Store, cp.ID, d)
	}
	return t
}

type sweepList []connection.Sweep

func (l sweepList) Table(bool) *output.Table {
	t := output.NewTable("STORE", "KEPT", "CUTOFF", "DELETED")
	for _, s := range l {
		t.AddRow(s.Store, s.Kept, s.Cutoff, s.Deleted)
	}
	return t
}

func snapshotList(c *cli.Context) error {
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	stores, err := client.ListSnapshots(ctx, c.String("store"))
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	return render(c, snapshotInfoList(stores))
}

func snapshotCreate(c *cli.Context) error {
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	cps, err := client.Checkpoint(ctx, c.String("store"))
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return render(c, checkpointList(cps))
}

func snapshotSweep(c *cli.Context) error {
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	sweeps, err := client.Sweep(ctx, c.String("store"))
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return render(c, sweepList(sweeps))
}
