package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/output"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	keysScheme     string
	keysChain      string
	keysSS58Prefix uint16
	keysIndex      uint32
	keysPassphrase bool

	keysSigner   string
	keysName     string
	keysReadOnly bool
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing accounts",
	Long:  `Import local keys and register external signers and watch-only accounts.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keysImportCmd = &cobra.Command{
	Use:   "import <name>",
	Short: "Import a local account from a BIP39 mnemonic",
	Long: `Derive an account from a BIP39 mnemonic and store its key encrypted with a password.

ed25519 accounts sign for extrinsic networks; secp256k1 accounts sign for
contract networks. With --chain the scheme and address prefix follow the network.

Examples:
  herald keys import main --chain westend
  herald keys import eth-main --scheme secp256k1 --index 1`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysImport,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keysAddExternalCmd = &cobra.Command{
	Use:   "add-external <address>",
	Short: "Register a QR or hardware signer, or a watch-only account",
	Long: `Register an account whose key never enters herald.

Examples:
  herald keys add-external 5F... --scheme ed25519 --signer qr --name vault
  herald keys add-external 0x70... --scheme secp256k1 --read-only`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysAddExternal,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE:  runKeysList,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var keysRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove an account and its key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRemove,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysImportCmd, keysAddExternalCmd, keysListCmd, keysRemoveCmd)

	keysImportCmd.Flags().StringVar(&keysScheme, "scheme", "", "key scheme: ed25519, secp256k1")
	keysImportCmd.Flags().StringVar(&keysChain, "chain", "", "network the account is for; sets the scheme and address prefix")
	keysImportCmd.Flags().Uint16Var(&keysSS58Prefix, "ss58-prefix", 42, "SS58 address prefix for ed25519 accounts")
	keysImportCmd.Flags().Uint32Var(&keysIndex, "index", 0, "BIP44 address index for secp256k1 accounts")
	keysImportCmd.Flags().BoolVar(&keysPassphrase, "passphrase", false, "prompt for a BIP39 passphrase")

	keysAddExternalCmd.Flags().StringVar(&keysScheme, "scheme", "", "key scheme: ed25519, secp256k1 (required)")
	keysAddExternalCmd.Flags().StringVar(&keysSigner, "signer", "", "external signer: qr, hardware")
	keysAddExternalCmd.Flags().StringVar(&keysName, "name", "", "account label")
	keysAddExternalCmd.Flags().BoolVar(&keysReadOnly, "read-only", false, "watch-only account that never signs")
	_ = keysAddExternalCmd.MarkFlagRequired("scheme")
}

// importOptions resolves the scheme and derivation options from the flags,
// preferring the network declaration when --chain is given.
func importOptions(cc *CommandContext) (keystore.Scheme, keystore.DeriveOptions, error) {
	opts := keystore.DeriveOptions{SS58Prefix: keysSS58Prefix, Index: keysIndex}
	scheme := keystore.Scheme(keysScheme)

	if keysChain != "" {
		n, ok := cc.Cfg.Network(keysChain)
		if !ok {
			return "", opts, heralderr.WithSuggestion(
				heralderr.WithDetail(chain.ErrUnsupportedChain, keysChain),
				"list configured networks with: herald networks list",
			)
		}
		chainType, _ := chain.ParseType(n.Type)
		implied := keystore.SchemeSecp256k1
		if chainType == chain.Extrinsic {
			implied = keystore.SchemeEd25519
			opts.SS58Prefix = n.SS58Prefix
		}
		if scheme != "" && scheme != implied {
			return "", opts, heralderr.WithDetail(heralderr.ErrInvalidInput,
				fmt.Sprintf("%s accounts cannot sign for %s", scheme, keysChain))
		}
		scheme = implied
	}

	if !scheme.IsValid() {
		return "", opts, heralderr.WithSuggestion(
			heralderr.WithDetail(heralderr.ErrInvalidInput, fmt.Sprintf("unknown scheme %q", keysScheme)),
			"use --scheme ed25519 or --scheme secp256k1, or pass --chain",
		)
	}
	return scheme, opts, nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	scheme, opts, err := importOptions(cc)
	if err != nil {
		return err
	}

	store, err := openKeystore(cc.Cfg)
	if err != nil {
		return err
	}

	mnemonic, err := promptMnemonicFn()
	if err != nil {
		return err
	}
	if keysPassphrase {
		if opts.Passphrase, err = promptPassphraseFn(); err != nil {
			return err
		}
	}

	password, err := promptNewPasswordFn()
	if err != nil {
		return err
	}
	defer clear(password)

	account, err := store.Import(args[0], mnemonic, scheme, opts, password)
	if err != nil {
		return err
	}
	cc.Log.Debug("imported %s account %s", account.Scheme, account.Address)
	return printAccount(cmd.OutOrStdout(), cc.Fmt.Format(), account, "Account imported")
}

func runKeysAddExternal(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)

	account := keystore.Account{
		Address:  args[0],
		Name:     keysName,
		Scheme:   keystore.Scheme(keysScheme),
		Signer:   keystore.Signer(keysSigner),
		ReadOnly: keysReadOnly,
	}
	if account.Signer != "" && !account.Signer.IsExternal() {
		return heralderr.WithSuggestion(
			heralderr.WithDetail(heralderr.ErrInvalidInput, fmt.Sprintf("unknown external signer %q", keysSigner)),
			"use --signer qr or --signer hardware, or --read-only",
		)
	}

	store, err := openKeystore(cc.Cfg)
	if err != nil {
		return err
	}
	if err := store.AddExternal(account); err != nil {
		return err
	}
	stored, _ := store.Account(account.Address)
	return printAccount(cmd.OutOrStdout(), cc.Fmt.Format(), stored, "Account registered")
}

func runKeysList(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	store, err := openKeystore(cc.Cfg)
	if err != nil {
		return err
	}
	return cc.Fmt.Print(accountList(store.Accounts()))
}

func runKeysRemove(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	store, err := openKeystore(cc.Cfg)
	if err != nil {
		return err
	}
	account, ok := store.Account(args[0])
	if !ok {
		return heralderr.WithDetail(heralderr.ErrAccountNotFound, args[0])
	}
	if !promptConfirmFn(fmt.Sprintf("Remove %s? Local keys cannot be recovered without the mnemonic.", accountLabel(account))) {
		return heralderr.WithDetail(heralderr.ErrUserRejectRequest, "cancelled at confirmation")
	}
	if err := store.Remove(account.Address); err != nil {
		return err
	}
	return output.FormatSuccess(cmd.OutOrStdout(), "Removed "+account.Address, cc.Fmt.Format())
}

func printAccount(w io.Writer, format output.Format, account keystore.Account, title string) error {
	if format == output.FormatJSON {
		return output.NewFormatter(format, w).Print(account)
	}
	output.SuccessTo(w, title)
	return accountList{account}.RenderText(w)
}

// accountList renders accounts as a table.
type accountList []keystore.Account

// RenderText implements output.TextRenderer.
func (l accountList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		outln(w, "No accounts found.")
		outln(w, "Import one with: herald keys import <name> --chain <network>")
		return nil
	}
	table := output.NewTable("NAME", "ADDRESS", "SCHEME", "SIGNER", "CREATED")
	for _, a := range l {
		signer := string(a.Signer)
		if a.ReadOnly {
			signer = "read-only"
		}
		table.AddRow(a.Name, a.Address, string(a.Scheme), signer, a.CreatedAt.Local().Format(time.DateTime))
	}
	return table.Render(w)
}
