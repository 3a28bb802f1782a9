package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"castbot/internal/app"
	"castbot/internal/config"
	"castbot/internal/recipients"
	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

func recipientsCommand(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "recipients",
		Usage: "inspect or seed the recipient store",
		Commands: []*cli.Command{
			{
				Name:   "count",
				Usage:  "print recipient counts",
				Action: f.count,
			},
			{
				Name:      "import",
				Usage:     "add chat ids (one per line) to the store",
				ArgsUsage: "<file|->",
				Action:    f.importIDs,
			},
		},
	}
}

// openStore loads the config and opens its store. Telegram settings are
// not required here.
func (f *flags) openStore(ctx context.Context) (storage.Store, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfigManager(f.ConfigPath).Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.OpenStore(ctx, cfg, logx.NewConsole(f.LogLevel))
}

func (f *flags) count(ctx context.Context, c *cli.Command) error {
	st, err := f.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := recipients.Collect(ctx, st, time.Now())
	if err != nil {
		return err
	}
	renderStats(c.Root().Writer, st.Driver(), stats)
	return nil
}

func renderStats(w io.Writer, driver string, s recipients.Stats) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Window", "Users"})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.AppendBulk([][]string{
		{"Total", humanize.Comma(int64(s.Total))},
		{"This month", humanize.Comma(int64(s.ThisMonth))},
		{"Last 3 months", humanize.Comma(int64(s.LastThree))},
	})
	table.SetFooter([]string{"store: " + driver, ""})
	table.Render()
}

func (f *flags) importIDs(ctx context.Context, c *cli.Command) error {
	src := c.Args().First()
	if src == "" {
		return fmt.Errorf("missing input file; use - for stdin")
	}
	var in io.Reader = os.Stdin
	if src != "-" {
		fh, err := os.Open(src)
		if err != nil {
			return err
		}
		defer fh.Close()
		in = fh
	}

	ids, bad, err := recipients.ParseIDs(in)
	if err != nil {
		return err
	}
	out := c.Root().Writer
	for _, b := range bad {
		fmt.Fprintf(out, "skipped line %d: %q\n", b.Line, b.Text)
	}

	st, err := f.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := recipients.Import(ctx, st, ids, time.Now())
	fmt.Fprintf(out, "imported %s new, %s already known, %s skipped\n",
		humanize.Comma(int64(res.Created)), humanize.Comma(int64(res.Existing)), humanize.Comma(int64(len(bad))))
	return err
}
