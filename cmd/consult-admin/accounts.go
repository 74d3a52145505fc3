package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage provider accounts",
}

var (
	accountProvider    string
	accountLabel       string
	accountLogin       string
	accountSecret      string
	accountSecretStdin bool
	accountToken       string
	accountDailyLimit  int
)

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a provider account",
	RunE:  runAccountsAdd,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the accounts of a provider with their quota",
	RunE:  runAccountsList,
}

func init() {
	accountsCmd.PersistentFlags().StringVarP(&accountProvider, "provider", "p", "", "Provider (v8, presenca, handmais)")
	_ = accountsCmd.MarkPersistentFlagRequired("provider")

	accountsAddCmd.Flags().StringVar(&accountLabel, "label", "", "Unique account label (required)")
	accountsAddCmd.Flags().StringVar(&accountLogin, "login", "", "Login for password-based providers")
	accountsAddCmd.Flags().StringVar(&accountSecret, "secret", "", "Password; prefer --secret-stdin")
	accountsAddCmd.Flags().BoolVar(&accountSecretStdin, "secret-stdin", false, "Read the password from the first line of stdin")
	accountsAddCmd.Flags().StringVar(&accountToken, "token", "", "Pre-issued API token for token-based providers")
	accountsAddCmd.Flags().IntVar(&accountDailyLimit, "daily-limit", 0, "Consults allowed per quota window")
	_ = accountsAddCmd.MarkFlagRequired("label")

	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd)
	rootCmd.AddCommand(accountsCmd)
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runAccountsAdd(cmd *cobra.Command, _ []string) error {
	provider, err := model.ParseProvider(accountProvider)
	if err != nil {
		return err
	}
	secret := accountSecret
	if accountSecretStdin {
		if secret, err = readSecret(cmd.InOrStdin()); err != nil {
			return err
		}
	}
	req := &model.CreateAccountRequest{
		Provider:   provider,
		Label:      accountLabel,
		Credential: model.Credential{Login: accountLogin, Secret: secret, Token: accountToken},
		DailyLimit: accountDailyLimit,
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return withInfra(ctx, false, func(ctx context.Context, in *infra) error {
		acc, createErr := in.Services.Intake.CreateAccount(ctx, req)
		if createErr != nil {
			return createErr
		}
		return printAccounts(cmd.OutOrStdout(), []model.Account{*acc})
	})
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	provider, err := model.ParseProvider(accountProvider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return withInfra(ctx, false, func(ctx context.Context, in *infra) error {
		accounts, listErr := in.Services.Intake.ListAccounts(ctx, provider)
		if listErr != nil {
			return listErr
		}
		return printAccounts(cmd.OutOrStdout(), accounts)
	})
}

// printAccounts renders accounts as a table. Credentials other than the login
// are never printed.
func printAccounts(w io.Writer, accounts []model.Account) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tLABEL\tLOGIN\tLIMIT\tCONSUMED\tREMAINING\tLAST RESET\n"); err != nil {
		return err
	}
	for _, a := range accounts {
		lastReset := "-"
		if a.LastResetAt != nil {
			lastReset = a.LastResetAt.UTC().Format(time.RFC3339)
		}
		login := a.Credential.Login
		if login == "" && a.Credential.Token != "" {
			login = "(token)"
		}
		if err := writef(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			a.ID, a.Label, login, a.DailyLimit, a.Consumed, a.Remaining(), lastReset); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
