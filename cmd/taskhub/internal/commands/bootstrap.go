package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/bootstrap"
	"github.com/wolfeidau/taskhub/internal/service"
)

type BootstrapCmd struct {
	Seed       string     `help:"path to the YAML seed file" required:"" type:"existingfile" env:"TASKHUB_SEED"`
	BcryptCost int        `help:"bcrypt cost for seeded passwords" default:"10"`
	Store      StoreFlags `embed:""`
}

func (c *BootstrapCmd) Run(ctx context.Context, globals *Globals) error {
	ctx = withLogger(ctx, globals)
	log := zerolog.Ctx(ctx)

	seed, err := bootstrap.LoadSeed(c.Seed)
	if err != nil {
		return err
	}

	repos, closeStore, err := c.Store.open(ctx, globals)
	if err != nil {
		return err
	}
	defer closeStore()

	b := bootstrap.New(repos.orgs, service.NewUserService(repos.users, c.BcryptCost))

	res, err := b.Seed(ctx, seed)
	if err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}

	log.Info().
		Int("organizations_created", res.OrganizationsCreated).
		Int("users_created", res.UsersCreated).
		Int("users_skipped", res.UsersSkipped).
		Msg("Bootstrap complete")

	return nil
}
