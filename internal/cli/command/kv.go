package command

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/metastore-go/internal/cli/connection"
	"github.com/yndnr/metastore-go/internal/cli/output"
)

// KVCommand returns the kv subcommand group.
func KVCommand() *cli.Command {
	return &cli.Command{
		Name:  "kv",
		Usage: "Read and write keys",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Read a key",
				ArgsUsage: "<store> <key>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "raw", Usage: "write the raw value to stdout"},
				},
				Action: kvGet,
			},
			{
				Name:      "put",
				Usage:     "Write a key",
				ArgsUsage: "<store> <key> [value]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the value from a file (- for stdin)"},
				},
				Action: kvPut,
			},
			{
				Name:      "delete",
				Aliases:   []string{"del", "rm"},
				Usage:     "Delete a key",
				ArgsUsage: "<store> <key>",
				Action:    kvDelete,
			},
		},
	}
}

// kvResult is a key rendered for output.
type kvResult struct {
	Store string `json:"store"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Size  int    `json:"size"`
}

func (r kvResult) Table(wide bool) *output.Table {
	if wide {
		t := output.NewTable("STORE", "KEY", "SIZE", "VALUE")
		t.AddRow(r.Store, r.Key, r.Size, r.Value)
		return t
	}
	t := output.NewTable("KEY", "VALUE")
	t.AddRow(r.Key, r.Value)
	return t
}

func storeAndKey(c *cli.Context, minArgs int) (string, string, error) {
	if c.NArg() < minArgs {
		return "", "", fmt.Errorf("usage: %s %s", c.Command.HelpName, c.Command.ArgsUsage)
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

func kvGet(c *cli.Context) error {
	store, key, err := storeAndKey(c, 2)
	if err != nil {
		return err
	}
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	kv, err := client.Get(ctx, store, key)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", store, key, err)
	}
	if c.Bool("raw") {
		_, err := c.App.Writer.Write(kv.Value)
		return err
	}
	return render(c, newKVResult(kv))
}

func newKVResult(kv *connection.KV) kvResult {
	value := string(kv.Value)
	if !utf8.Valid(kv.Value) {
		value = fmt.Sprintf("<%d bytes binary>", len(kv.Value))
	}
	return kvResult{Store: kv.Store, Key: kv.Key, Value: value, Size: len(kv.Value)}
}

func kvPut(c *cli.Context) error {
	store, key, err := storeAndKey(c, 2)
	if err != nil {
		return err
	}
	value, err := readValue(c)
	if err != nil {
		return err
	}
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := client.Put(ctx, store, key, value); err != nil {
		return fmt.Errorf("put %s/%s: %w", store, key, err)
	}
	fmt.Fprintf(c.App.Writer, "Stored %s/%s (%d bytes)\n", store, key, len(value))
	return nil
}

func readValue(c *cli.Context) ([]byte, error) {
	switch path := c.String("file"); {
	case path == "-":
		return io.ReadAll(c.App.Reader)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read value: %w", err)
		}
		return data, nil
	case c.NArg() >= 3:
		return []byte(c.Args().Get(2)), nil
	default:
		return nil, fmt.Errorf("value required: pass it as an argument or use --file")
	}
}

func kvDelete(c *cli.Context) error {
	store, key, err := storeAndKey(c, 2)
	if err != nil {
		return err
	}
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := client.Delete(ctx, store, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", store, key, err)
	}
	fmt.Fprintf(c.App.Writer, "Deleted %s/%s\n", store, key)
	return nil
}
