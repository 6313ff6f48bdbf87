package cli

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/chain"
	"github.com/mrz1836/herald/internal/history"
	"github.com/mrz1836/herald/internal/keystore"
	"github.com/mrz1836/herald/internal/output"
	"github.com/mrz1836/herald/internal/service/transaction"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	txChain          string
	txFrom           string
	txTo             string
	txAmount         string
	txOrigin         string
	txYes            bool
	txIgnoreWarnings bool

	txListAddress string
	txListChain   string
	txListStatus  string
	txListLimit   int
)

const historyQueryTimeout = 30 * time.Second

// txCmd is the parent command for transaction operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Send transactions and browse the history",
	Long:  `Send native transfers and browse the transaction history.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a native transfer",
	Long: `Build a native transfer, validate it against the sender's balance, sign it
with the sender's signer and follow it until it is included in a block.

Local accounts prompt for the keystore password. QR accounts show the signing
payload as a QR code and wait for the signature to be pasted back.

Examples:
  herald tx send --chain westend --from 5F... --to 5G... --amount 1.5
  herald tx send --chain sepolia --from 0xf39F... --to 0x7099... --amount 0.01 --yes`,
	RunE: runTxSend,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the transaction history",
	RunE:  runTxList,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txShowCmd = &cobra.Command{
	Use:   "show <transaction-id>",
	Short: "Show one transaction from the history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxShow,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(txCmd)
	txCmd.AddCommand(txSendCmd, txListCmd, txShowCmd)

	txSendCmd.Flags().StringVar(&txChain, "chain", "", "network id, e.g. westend or sepolia (required)")
	txSendCmd.Flags().StringVar(&txFrom, "from", "", "sender account address (required)")
	txSendCmd.Flags().StringVar(&txTo, "to", "", "recipient address (required)")
	txSendCmd.Flags().StringVar(&txAmount, "amount", "", "amount in whole units, e.g. 1.5 (required)")
	txSendCmd.Flags().StringVar(&txOrigin, "origin", "", "origin URL when relaying a request from a site")
	txSendCmd.Flags().BoolVar(&txYes, "yes", false, "skip confirmation prompt")
	txSendCmd.Flags().BoolVar(&txIgnoreWarnings, "ignore-warnings", false, "send despite validation warnings")
	_ = txSendCmd.MarkFlagRequired("chain")
	_ = txSendCmd.MarkFlagRequired("from")
	_ = txSendCmd.MarkFlagRequired("to")
	_ = txSendCmd.MarkFlagRequired("amount")

	txListCmd.Flags().StringVar(&txListAddress, "address", "", "only transactions from this address")
	txListCmd.Flags().StringVar(&txListChain, "chain", "", "only transactions on this network")
	txListCmd.Flags().StringVar(&txListStatus, "status", "", "only transactions with this status: processing, success, failed")
	txListCmd.Flags().IntVar(&txListLimit, "limit", 50, "maximum number of transactions")
}

func runTxSend(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	ctx := cmd.Context()

	rt, err := newRuntime(cc, inputReader(cmd.InOrStdin()), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	intent, account, err := buildTransferIntent(ctx, rt, chain.ID(txChain), txFrom, txTo, txAmount)
	if err != nil {
		return err
	}
	intent.URL = txOrigin
	intent.IgnoreWarnings = txIgnoreWarnings

	result := rt.service.Validate(ctx, intent)
	if result.Blocked(intent.IgnoreWarnings) {
		return &transaction.ValidationError{Errors: result.Errors, Warnings: result.Warnings, Fee: result.Fee}
	}

	w := cmd.ErrOrStderr()
	if !cc.Fmt.IsJSON() {
		renderTransferSummary(w, intent, result)
	}
	if !txYes && !promptConfirmFn("Send this transaction?") {
		return heralderr.WithDetail(heralderr.ErrUserRejectRequest, "cancelled at confirmation")
	}

	if account.Signer == keystore.SignerLocal {
		password, promptErr := promptPasswordFn(fmt.Sprintf("Password for %s: ", accountLabel(account)))
		if promptErr != nil {
			return promptErr
		}
		intent.Password = password
	}

	handle, err := rt.service.Submit(ctx, intent)
	if err != nil {
		return err
	}
	defer handle.Close()

	info, _ := rt.networks.Info(intent.Chain)
	return followTransaction(ctx, cc.Fmt, handle, info)
}

// buildTransferIntent prepares a native transfer of amount (in whole units)
// from an account in the keystore.
func buildTransferIntent(ctx context.Context, rt *runtime, chainID chain.ID, from, to, amount string) (*transaction.Intent, keystore.Account, error) {
	info, ok := rt.networks.Info(chainID)
	if !ok {
		return nil, keystore.Account{}, heralderr.WithSuggestion(
			heralderr.WithDetail(chain.ErrUnsupportedChain, string(chainID)),
			"list configured networks with: herald networks list",
		)
	}

	account, ok := rt.keys.Account(from)
	if !ok {
		return nil, keystore.Account{}, heralderr.WithSuggestion(
			heralderr.WithDetail(heralderr.ErrAccountNotFound, from),
			"list accounts with: herald keys list",
		)
	}

	value, err := chain.ParseDecimalAmount(amount, info.Decimals, heralderr.ErrInvalidAmount)
	if err != nil {
		return nil, keystore.Account{}, err
	}
	if value.Sign() <= 0 {
		return nil, keystore.Account{}, heralderr.WithDetail(heralderr.ErrInvalidAmount, "amount must be positive")
	}

	payload, err := rt.service.PrepareTransfer(ctx, chainID, account.Address, to, value)
	if err != nil {
		return nil, keystore.Account{}, err
	}

	return &transaction.Intent{
		Chain:          chainID,
		Address:        account.Address,
		ChainType:      info.Type,
		Payload:        payload,
		TransferAmount: chain.NewAmount(value, info.Decimals, info.Symbol),
	}, account, nil
}

func renderTransferSummary(w io.Writer, intent *transaction.Intent, result *transaction.ValidationResult) {
	table := output.NewTable("", "")
	table.SetNoHeader(true)
	table.AddRow("Network:", string(intent.Chain))
	table.AddRow("From:", intent.Address)
	table.AddRow("Amount:", result.TransferAmount.String())
	table.AddRow("Estimated fee:", result.Fee.String())
	table.AddRow("Balance:", result.Balance.String())
	_ = table.Render(w)

	for _, warning := range result.Warnings {
		output.WarnTo(w, output.Detail(warning).Message)
	}
}

// eventView is the JSON form of a transaction event.
type eventView struct {
	Event         string               `json:"event"`
	ID            string               `json:"id"`
	ExtrinsicHash string               `json:"extrinsic_hash,omitempty"`
	BlockHash     string               `json:"block_hash,omitempty"`
	BlockNumber   uint64               `json:"block_number,omitempty"`
	ExplorerLink  string               `json:"explorer_link,omitempty"`
	Errors        []output.ErrorDetail `json:"errors,omitempty"`
	Warnings      []output.ErrorDetail `json:"warnings,omitempty"`
}

func newEventView(ev transaction.Event, info chain.Info) eventView {
	view := eventView{
		Event:         string(ev.Name),
		ID:            ev.ID,
		ExtrinsicHash: ev.ExtrinsicHash,
		BlockHash:     ev.BlockHash,
		BlockNumber:   ev.BlockNumber,
		ExplorerLink:  info.ExplorerLink(ev.ExtrinsicHash),
	}
	for _, err := range ev.Errors {
		view.Errors = append(view.Errors, output.Detail(err))
	}
	for _, warning := range ev.Warnings {
		view.Warnings = append(view.Warnings, output.Detail(warning))
	}
	return view
}

// RenderText implements output.TextRenderer.
func (v eventView) RenderText(w io.Writer) error {
	switch transaction.EventName(v.Event) {
	case transaction.EventExtrinsicHash:
		output.PendingTo(w, fmt.Sprintf("Submitted %s: %s", v.ID, v.ExtrinsicHash))
	case transaction.EventSuccess:
		msg := fmt.Sprintf("Included %s", v.ID)
		if v.BlockNumber > 0 {
			msg += " in block " + strconv.FormatUint(v.BlockNumber, 10)
		}
		output.SuccessTo(w, msg)
		if v.ExplorerLink != "" {
			output.InfoTo(w, v.ExplorerLink)
		}
	case transaction.EventError:
		output.FailureTo(w, fmt.Sprintf("Transaction %s failed", v.ID))
	}
	return nil
}

// followTransaction prints the events of h until a terminal one arrives.
// Progress goes to the formatter; JSON mode writes one object per event.
func followTransaction(ctx context.Context, f *output.Formatter, h *transaction.Handle, info chain.Info) error {
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return heralderr.WithDetail(heralderr.ErrInternal, "transaction events ended early")
			}
			if err := f.PrintLine(newEventView(ev, info)); err != nil {
				return err
			}
			if ev.Name == transaction.EventError {
				return ev.Err()
			}
			if ev.IsTerminal() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// historyView is the JSON form of a history entry.
type historyView struct {
	TransactionID string    `json:"id"`
	Chain         string    `json:"chain"`
	ChainType     string    `json:"chain_type"`
	Address       string    `json:"address"`
	Signer        string    `json:"signer"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount,omitempty"`
	AmountRaw     string    `json:"amount_base_units,omitempty"`
	Fee           string    `json:"fee,omitempty"`
	FeeRaw        string    `json:"fee_base_units,omitempty"`
	Symbol        string    `json:"symbol,omitempty"`
	ExtrinsicHash string    `json:"extrinsic_hash,omitempty"`
	BlockHash     string    `json:"block_hash,omitempty"`
	BlockNumber   uint64    `json:"block_number,omitempty"`
	Error         string    `json:"error,omitempty"`
	URL           string    `json:"url,omitempty"`
	ExplorerLink  string    `json:"explorer_link,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// newHistoryView converts an entry. Amounts are stored in base units and
// shown in whole units when the network's decimals are known.
func newHistoryView(e history.Entry, decimals int, known bool) historyView {
	return historyView{
		TransactionID: e.TransactionID,
		Chain:         e.Chain,
		ChainType:     e.ChainType,
		Address:       e.Address,
		Signer:        e.Signer,
		Status:        e.Status,
		Amount:        wholeUnits(e.Amount, decimals, known),
		AmountRaw:     e.Amount,
		Fee:           wholeUnits(e.Fee, decimals, known),
		FeeRaw:        e.Fee,
		Symbol:        e.Symbol,
		ExtrinsicHash: e.ExtrinsicHash,
		BlockHash:     e.BlockHash,
		BlockNumber:   e.BlockNumber,
		Error:         e.Error,
		URL:           e.URL,
		ExplorerLink:  e.ExplorerLink,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// RenderText implements output.TextRenderer.
func (v historyView) RenderText(w io.Writer) error {
	table := output.NewTable("", "")
	table.SetNoHeader(true)
	table.AddRow("ID:", v.TransactionID)
	table.AddRow("Network:", v.Chain+" ("+v.ChainType+")")
	table.AddRow("From:", v.Address)
	table.AddRow("Signer:", v.Signer)
	table.AddRow("Status:", v.Status)
	table.AddRow("Amount:", joinNonEmpty(v.Amount, v.Symbol))
	if v.Fee != "" {
		table.AddRow("Fee:", joinNonEmpty(v.Fee, v.Symbol))
	}
	if v.ExtrinsicHash != "" {
		table.AddRow("Hash:", v.ExtrinsicHash)
	}
	if v.BlockNumber > 0 {
		table.AddRow("Block:", strconv.FormatUint(v.BlockNumber, 10))
	}
	if v.Error != "" {
		table.AddRow("Error:", v.Error)
	}
	if v.ExplorerLink != "" {
		table.AddRow("Explorer:", v.ExplorerLink)
	}
	table.AddRow("Created:", v.CreatedAt.Local().Format(time.DateTime))
	return table.Render(w)
}

// historyList renders a list of entries as a table.
type historyList []historyView

// RenderText implements output.TextRenderer.
func (l historyList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		outln(w, "No transactions found.")
		return nil
	}
	table := output.NewTable("ID", "NETWORK", "STATUS", "AMOUNT", "HASH", "CREATED")
	table.SetAlign(3, output.AlignRight).SetMaxWidth(4, 19)
	for _, v := range l {
		table.AddRow(v.TransactionID, v.Chain, v.Status, joinNonEmpty(v.Amount, v.Symbol), v.ExtrinsicHash,
			v.CreatedAt.Local().Format(time.DateTime))
	}
	return table.Render(w)
}

func runTxList(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	store, err := history.Open(cc.Cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := requestContext(cmd, historyQueryTimeout)
	defer cancel()

	entries, err := store.List(ctx, history.Filter{
		Address: txListAddress,
		Chain:   chain.ID(txListChain),
		Status:  txListStatus,
		Limit:   txListLimit,
	})
	if err != nil {
		return err
	}

	list := make(historyList, 0, len(entries))
	for _, e := range entries {
		list = append(list, viewOf(cc, e))
	}
	return cc.Fmt.Print(list)
}

func runTxShow(cmd *cobra.Command, args []string) error {
	cc := GetCmdContext(cmd)
	store, err := history.Open(cc.Cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := requestContext(cmd, historyQueryTimeout)
	defer cancel()

	entry, err := store.Get(ctx, args[0])
	if err != nil {
		return heralderr.WithCause(heralderr.WithDetail(heralderr.ErrNotFound, args[0]), err)
	}
	return cc.Fmt.Print(viewOf(cc, *entry))
}

func viewOf(cc *CommandContext, e history.Entry) historyView {
	n, ok := cc.Cfg.Network(e.Chain)
	return newHistoryView(e, n.Decimals, ok)
}

// wholeUnits formats a base-unit integer string with decimals.
func wholeUnits(raw string, decimals int, known bool) string {
	if raw == "" || !known {
		return raw
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return chain.FormatDecimalAmount(v, decimals)
}

func joinNonEmpty(value, symbol string) string {
	if value == "" || symbol == "" {
		return value
	}
	return value + " " + symbol
}

func accountLabel(a keystore.Account) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " (" + a.Address + ")"
}
