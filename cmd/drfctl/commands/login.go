package commands

import (
	"fmt"
	"syscall"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	var (
		username string
		password string
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to a DRF backend",
		Long:  "Obtain a JWT pair with username and password and keep it for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			out := cmd.OutOrStdout()

			if username == "" {
				username = prompt(cmd.InOrStdin(), out, "Username: ")
			}

			if username == "" {
				return ErrUsernameRequired
			}

			if password == "" {
				_, _ = fmt.Fprint(out, "Password: ")

				bytePassword, err := term.ReadPassword(int(syscall.Stdin))
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}

				password = string(bytePassword)

				_, _ = fmt.Fprintln(out)
			}

			err = client.Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			endpoint := client.Config().BaseURL

			if save {
				err = persistConfigValues(map[string]string{"api": endpoint, "username": username})
				if err != nil {
					return fmt.Errorf("failed to save configuration: %w", err)
				}
			}

			_, _ = fmt.Fprintf(out, "Logged in to %s as %s\n", endpoint, username)

			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&save, "save", true, "remember the API endpoint in the config file")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout from the DRF backend",
		Long:  "Forget the stored token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			err = client.Logout(cmd.Context())
			if err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Long:  "Display the claims of the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			if !client.Authenticated() {
				return constants.ErrNotAuthenticated
			}

			if refresh {
				err = client.RefreshToken(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to refresh token: %w", err)
				}
			}

			user := client.User()
			if user == nil {
				return constants.ErrNotAuthenticated
			}

			if viper.GetString("output") != constants.FormatTable && viper.GetString("output") != "" {
				return writeOutput(cmd.OutOrStdout(), user)
			}

			return writeOutput(cmd.OutOrStdout(), map[string]string{
				"user_id":    user.ID,
				"subject":    valueOrNA(user.Subject),
				"token_type": valueOrNA(user.TokenType),
				"issued_at":  formatTime(user.IssuedAt),
				"expires_at": formatTime(user.ExpiresAt),
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "refresh the access token first")

	return cmd
}
