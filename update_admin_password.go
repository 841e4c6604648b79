package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/treefix50/classreplay/internal/auth"
)

func newAdminCmd(a *app) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage curator accounts",
	}

	var generate bool
	reset := &cobra.Command{
		Use:   "reset-password [username]",
		Short: "Set a new password for an account (admin by default)",
		Long: "Reads the new password from stdin, or generates one with --generate.\n" +
			"Every session of the account is revoked.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := auth.AdminUsername
			if len(args) == 1 {
				username = args[0]
			}
			return a.resetPassword(cmd.InOrStdin(), cmd.OutOrStdout(), username, generate)
		},
	}
	reset.Flags().BoolVar(&generate, "generate", false, "generate a random password and print it")

	var password string
	add := &cobra.Command{
		Use:   "add-user <username>",
		Short: "Create a non-admin account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.addUser(cmd.OutOrStdout(), args[0], password)
		},
	}
	add.Flags().StringVar(&password, "password", "", "account password")
	_ = add.MarkFlagRequired("password")

	admin.AddCommand(reset, add)
	return admin
}

func (a *app) resetPassword(in io.Reader, out io.Writer, username string, generate bool) error {
	var password string
	if generate {
		p, err := auth.GeneratePassword()
		if err != nil {
			return err
		}
		password = p
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := auth.NewManager(store, a.cfg.SessionTTL).ResetPassword(username, password); err != nil {
		return fmt.Errorf("reset password for %s: %w", username, err)
	}
	a.log.Info().Str("username", username).Msg("password reset, sessions revoked")
	if generate {
		fmt.Fprintf(out, "new password for %s: %s\n", username, password)
	}
	return nil
}

func (a *app) addUser(out io.Writer, username, password string) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := auth.NewManager(store, a.cfg.SessionTTL).CreateUser(username, password)
	if err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	fmt.Fprintf(out, "created user %s (%s)\n", user.Username, user.ID)
	return nil
}
