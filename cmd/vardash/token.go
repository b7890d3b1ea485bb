package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/vardash/internal/token"
)

func newTokenCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored bearer token",
		Long: `Store, inspect or remove the bearer token used for the backend.

Tokens are kept per backend URL in tokens.json under the user config directory
(override with VARDASH_CONFIG_DIR). The --token flag and VARDASH_TOKEN take part
in resolution too; see 'token show'.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [token]",
		Short: "Store a token for the backend (prompts when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenSet(args, app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show which token would be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenShow(app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Short:   "Remove the stored token for the backend",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenDelete(app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backends with a stored token",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenList(app)
		},
	})
	return cmd
}

func runTokenSet(args []string, app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	store, err := app.NewTokenStore()
	if err != nil {
		return err
	}

	var tok string
	if len(args) > 0 {
		tok = args[0]
	} else {
		fmt.Fprintf(app.Out, "Token for %s: ", cfg.BackendURL)
		if tok, err = app.ReadSecret(app.In, app.Out); err != nil {
			return err
		}
	}
	if tok == "" {
		return errors.New("token cannot be empty")
	}

	if err := store.Set(cfg.BackendURL, tok); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Token for %s saved to %s\n", cfg.BackendURL, store.Path())
	return nil
}

func runTokenShow(app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	var store *token.Store
	if s, err := app.NewTokenStore(); err == nil {
		store = s
	}
	tok, source, err := token.Resolve(flagToken, cfg.BackendURL, store, app.GetEnv)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Backend: %s\n", cfg.BackendURL)
	fmt.Fprintf(app.Out, "Token:   %s\n", token.Mask(tok))
	fmt.Fprintf(app.Out, "Source:  %s\n", source)
	return nil
}

func runTokenDelete(app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	store, err := app.NewTokenStore()
	if err != nil {
		return err
	}

	err = store.Delete(cfg.BackendURL)
	if errors.Is(err, token.ErrNotFound) {
		fmt.Fprintf(app.Out, "No token stored for %s\n", cfg.BackendURL)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Token for %s deleted\n", cfg.BackendURL)
	return nil
}

func runTokenList(app *App) error {
	store, err := app.NewTokenStore()
	if err != nil {
		return err
	}
	origins, err := store.Origins()
	if err != nil {
		return err
	}
	if len(origins) == 0 {
		fmt.Fprintln(app.Out, "No tokens stored.")
		return nil
	}
	for _, origin := range origins {
		tok, _ := store.Get(origin)
		fmt.Fprintf(app.Out, "%-40s  %s\n", origin, token.Mask(tok))
	}
	return nil
}
