package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/taskhub/cmd/taskhub/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug     bool `help:"Enable debug mode." env:"TASKHUB_DEBUG"`
		Version   kong.VersionFlag
		Migrate   commands.MigrateCmd   `cmd:"" help:"Apply database migrations"`
		Bootstrap commands.BootstrapCmd `cmd:"" help:"Create organizations and users from a seed file"`
		Superuser commands.SuperuserCmd `cmd:"" help:"Create a superuser"`
		Report    commands.ReportCmd    `cmd:"" help:"Print user and task counts per organization"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("taskhub"),
		kong.Description("Multi-tenant task tracking administration."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
