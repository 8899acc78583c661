package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/celia/internal/auth"
)

func newAuthCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in, sign up and manage the saved session",
	}
	cmd.AddCommand(
		newCredentialsCmd(c, "signin", "Sign in and save the session", false),
		newCredentialsCmd(c, "signup", "Create an account and save the session", true),
		newResetCmd(c),
		newWhoamiCmd(c),
		newSignOutCmd(c),
	)
	return cmd
}

func newCredentialsCmd(c *cli, use, short string, signup bool) *cobra.Command {
	var email, password, googleToken string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var sess auth.Session
			switch {
			case googleToken != "":
				sess, err = a.Auth.SignInWithGoogle(ctx, googleToken)
			case email == "" || password == "":
				return errors.New("--email and --password are required")
			case signup:
				sess, err = a.Auth.SignUp(ctx, email, password)
			default:
				sess, err = a.Auth.SignIn(ctx, email, password)
			}
			if err != nil {
				return err
			}
			if err := saveSession(c.stateDir, sess); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(sess.Identity))
			if !sess.Identity.EmailVerified {
				fmt.Fprintln(cmd.OutOrStdout(), "Check your inbox to verify your email address.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	if !signup {
		cmd.Flags().StringVar(&googleToken, "google-id-token", "", "sign in with a Google ID token instead")
	}
	return cmd
}

func newResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <email>",
		Short: "Send a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Auth.ResetPassword(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password reset email sent to", args[0])
			return nil
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, ok, err := loadSession(c.stateDir)
			if err != nil {
				return err
			}
			if !ok {
				return auth.ErrUnauthenticated
			}

			a, err := c.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Auth.Reload(ctx, sess.IDToken)
			if errors.Is(err, auth.ErrInvalidToken) {
				// Local accounts do not outlive the process; the token still names the user.
				id, err = a.Auth.Verify(ctx, sess.IDToken)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (uid %s, verified: %t)\n", displayName(id), id.UID, id.EmailVerified)
			return nil
		},
	}
}

func newSignOutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clearSession(c.stateDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func displayName(id auth.Identity) string {
	switch {
	case id.DisplayName != "":
		return id.DisplayName
	case id.Email != "":
		return id.Email
	default:
		return id.UID
	}
}
