package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"bilisub/pkg/auth"
	"bilisub/pkg/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Bilibili login cookies",
	Long: `Manage stored Bilibili login cookies.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (BILISUB_SESSDATA, BILISUB_BILI_JCT, BILISUB_DEDEUSERID)

Never share your SESSDATA!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store Bilibili cookies securely",
	Long: `Store Bilibili cookies in the system keychain or an encrypted file.

You will be asked for SESSDATA, bili_jct and DedeUserID, or you can paste a
whole Cookie header. The name defaults to the DedeUserID.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <name|--all>",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	RunE:  runAuthList,
}

var switchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Make an account the default",
	Args:  cobra.ExactArgs(1),
	RunE:  runSwitch,
}

var logoutAll bool

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(switchCmd)
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	auth.WriteCookieGuide(cmd.OutOrStdout())
	reader := bufio.NewReader(cmd.InOrStdin())

	fmt.Fprint(cmd.OutOrStdout(), "Paste the Cookie header, or press Enter to type values: ")
	header, _ := reader.ReadString('\n')

	var account *auth.Account
	if strings.TrimSpace(header) != "" {
		account = auth.ParseCookieHeader(header)
	} else {
		account = &auth.Account{}
		fmt.Fprint(cmd.OutOrStdout(), "SESSDATA (hidden): ")
		if account.SESSDATA, err = readSecret(reader); err != nil {
			return fmt.Errorf("failed to read SESSDATA: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), "bili_jct (hidden): ")
		if account.BiliJct, err = readSecret(reader); err != nil {
			return fmt.Errorf("failed to read bili_jct: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), "DedeUserID: ")
		uid, _ := reader.ReadString('\n')
		account.DedeUserID = strings.TrimSpace(uid)
		fmt.Fprint(cmd.OutOrStdout(), "buvid3 (optional): ")
		buvid, _ := reader.ReadString('\n')
		account.Buvid3 = strings.TrimSpace(buvid)
	}

	if len(args) > 0 {
		account.Name = args[0]
	}
	if err := account.Validate(); err != nil {
		return err
	}
	if err := manager.Store(account); err != nil {
		return err
	}

	accounts, _ := manager.List()
	if len(accounts) == 1 || manager.Current() == "" {
		if err := manager.SetCurrent(account.Name); err != nil {
			ui.PrintWarning("Could not mark account as default: " + err.Error())
		}
	}

	ui.PrintSuccess("Account saved: " + account.Name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if logoutAll {
		if err := manager.DeleteAll(); err != nil {
			return err
		}
		ui.PrintSuccess("All accounts removed")
		return nil
	}
	if len(args) == 0 {
		return errors.New("name the account to remove or pass --all")
	}

	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	ui.PrintSuccess("Account removed: " + args[0])
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "use 'bilisub auth login' to add one")
		return nil
	}

	current := manager.Current()
	table := ui.NewTable(cmd.OutOrStdout(), "", "name", "uid", "sessdata", "modified")
	for _, account := range accounts {
		marker := ""
		if account.Name == current {
			marker = "*"
		}
		s := auth.SanitizeAccount(account)
		table.AddRow(marker, s.Name, s.DedeUserID, s.SESSDATA, s.LastModified.Format("2006-01-02 15:04"))
	}
	return table.Render()
}

func runSwitch(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.SetCurrent(args[0]); err != nil {
		return err
	}
	ui.PrintSuccess("Default account: " + args[0])
	return nil
}

// readSecret reads a value without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
