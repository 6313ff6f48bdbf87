package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/output"
	"github.com/mrz1836/herald/internal/version"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const versionCheckTimeout = 10 * time.Second

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var versionCheck bool

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the herald version",
	RunE:  runVersion,
}

//nolint:gochecknoglobals // swapped in tests
var newVersionClient = func() *version.Client { return version.NewClient() }

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}

// versionView is the output of the version command.
type versionView struct {
	version.Build

	Update *version.Check `json:"update,omitempty"`
}

// RenderText implements output.TextRenderer.
func (v versionView) RenderText(w io.Writer) error {
	outln(w, "herald "+v.Build.String())
	if v.Update == nil {
		return nil
	}
	if v.Update.IsNewer {
		output.InfoTo(w, "A newer release is available: "+v.Update.Latest)
		if v.Update.URL != "" {
			outln(w, "  "+v.Update.URL)
		}
		return nil
	}
	output.SuccessTo(w, "herald is up to date")
	return nil
}

func runVersion(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	view := versionView{Build: version.Current()}

	if versionCheck {
		ctx, cancel := requestContext(cmd, versionCheckTimeout)
		defer cancel()

		check, err := newVersionClient().CheckLatest(ctx, view.Version)
		if err != nil {
			return heralderr.WithCause(heralderr.WithDetail(heralderr.ErrGeneral, "release check failed"), err)
		}
		view.Update = check
	}
	return cc.Fmt.Print(view)
}
