package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gpuadvisor/internal/api"
)

func archsCmd() *cli.Command {
	return &cli.Command{
		Name:    "archs",
		Aliases: []string{"architectures"},
		Usage:   "List supported GPU architectures",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDEVICE\tSMS\tWARPS/SM\tCLOCK\tALIASES")
			for _, a := range api.Architectures() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f GHz\t%s\n",
					a.Name, a.Device, a.SMs, a.Warps, a.ClockGHz, strings.Join(a.Aliases, ", "))
			}
			return tw.Flush()
		},
	}
}
