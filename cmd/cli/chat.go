package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/auth"
	"github.com/capitalize-ai/celia/internal/tui"
)

// localUID identifies the single user of an unauthenticated terminal.
const localUID = "local"

type identityFlags struct {
	token    string
	email    string
	password string
	signup   bool
}

func (f *identityFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.token, "token", "", "ID token to use instead of the saved session")
	fs.StringVar(&f.email, "email", "", "sign in with this email")
	fs.StringVar(&f.password, "password", "", "password for --email")
	fs.BoolVar(&f.signup, "signup", false, "create the account given by --email first")
}

func newChatCmd(c *cli) *cobra.Command {
	var (
		flags identityFlags
		style string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := c.resolveIdentity(ctx, a.Auth, flags, true)
			if err != nil {
				return err
			}
			c.log.Info("starting chat", zap.String("uid", id.UID))

			return tui.Run(auth.WithIdentity(ctx, id), a.Manager, id.UID, tui.Options{MarkdownStyle: style})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&style, "style", "auto", "markdown style for bot messages (auto, dark, light, notty, plain)")
	return cmd
}

// resolveIdentity picks the user in order: --token, --email/--password,
// the saved session, and finally the local terminal user when allowLocal
// is set.
func (c *cli) resolveIdentity(ctx context.Context, provider auth.Provider, f identityFlags, allowLocal bool) (auth.Identity, error) {
	if f.token != "" {
		return provider.Verify(ctx, f.token)
	}

	if f.email != "" {
		if f.password == "" {
			return auth.Identity{}, errors.New("--password is required with --email")
		}
		signIn := provider.SignIn
		if f.signup {
			signIn = provider.SignUp
		}
		sess, err := signIn(ctx, f.email, f.password)
		if err != nil {
			return auth.Identity{}, err
		}
		if err := saveSession(c.stateDir, sess); err != nil {
			c.log.Warn("failed to save session", zap.Error(err))
		}
		return sess.Identity, nil
	}

	sess, ok, err := loadSession(c.stateDir)
	if err != nil {
		return auth.Identity{}, err
	}
	if ok {
		id, err := provider.Verify(ctx, sess.IDToken)
		if err == nil {
			return id, nil
		}
		if !allowLocal {
			return auth.Identity{}, fmt.Errorf("saved session is no longer valid, run 'celia auth signin': %w", err)
		}
		c.log.Warn("saved session rejected", zap.Error(err))
	}

	if !allowLocal {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return auth.Identity{UID: localUID}, nil
}
