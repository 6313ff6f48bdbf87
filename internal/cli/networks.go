package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "Show configured networks",
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var networksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured networks",
	Long: `List the networks declared in the configuration file, with their RPC
endpoint after environment overrides (HERALD_RPC_<ID>).`,
	RunE: runNetworksList,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(networksCmd)
	networksCmd.AddCommand(networksListCmd)
}

// networkView is the JSON form of a network declaration.
type networkView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Symbol     string `json:"symbol"`
	Decimals   int    `json:"decimals"`
	RPC        string `json:"rpc"`
	Explorer   string `json:"explorer,omitempty"`
	EVMChainID int64  `json:"evm_chain_id,omitempty"`
	SS58Prefix uint16 `json:"ss58_prefix,omitempty"`
}

func newNetworkView(n config.NetworkConfig) networkView {
	name := n.Name
	if name == "" {
		name = n.ID
	}
	return networkView{
		ID:         n.ID,
		Name:       name,
		Type:       n.Type,
		Symbol:     n.Symbol,
		Decimals:   n.Decimals,
		RPC:        n.RPC,
		Explorer:   n.Explorer,
		EVMChainID: n.EVMChainID,
		SS58Prefix: n.SS58Prefix,
	}
}

// networkList renders networks as a table.
type networkList []networkView

// RenderText implements output.TextRenderer.
func (l networkList) RenderText(w io.Writer) error {
	if len(l) == 0 {
		outln(w, "No networks configured.")
		return nil
	}
	table := output.NewTable("ID", "TYPE", "SYMBOL", "DECIMALS", "RPC")
	table.SetAlign(3, output.AlignRight).SetMaxWidth(4, 48)
	for _, n := range l {
		table.AddRow(n.ID, n.Type, n.Symbol, strconv.Itoa(n.Decimals), n.RPC)
	}
	return table.Render(w)
}

func runNetworksList(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	list := make(networkList, 0, len(cc.Cfg.Networks))
	for _, n := range cc.Cfg.Networks {
		list = append(list, newNetworkView(n))
	}
	return cc.Fmt.Print(list)
}
