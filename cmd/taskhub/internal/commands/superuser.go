package commands

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/bootstrap"
	"github.com/wolfeidau/taskhub/internal/service"
)

type SuperuserCmd struct {
	Username     string     `help:"superuser username" required:""`
	Password     string     `help:"superuser password" required:"" env:"TASKHUB_SUPERUSER_PASSWORD"`
	Organization string     `help:"organization to create the superuser in, created if missing"`
	BcryptCost   int        `help:"bcrypt cost for the password" default:"10"`
	Store        StoreFlags `embed:""`
}

func (c *SuperuserCmd) Run(ctx context.Context, globals *Globals) error {
	ctx = withLogger(ctx, globals)
	log := zerolog.Ctx(ctx)

	repos, closeStore, err := c.Store.open(ctx, globals)
	if err != nil {
		return err
	}
	defer closeStore()

	b := bootstrap.New(repos.orgs, service.NewUserService(repos.users, c.BcryptCost))

	user, err := b.CreateSuperuser(ctx, bootstrap.SuperuserInput{
		Username:     c.Username,
		Password:     c.Password,
		Organization: c.Organization,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", user.ID.String()).
		Str("org_id", user.OrgID.String()).
		Msg("Superuser created")

	return nil
}
