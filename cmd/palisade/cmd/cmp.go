package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/palisade/cmp"
)

var cmpKeyID string

// cmpCmd exercises the CMP endpoint the way an external monitoring probe
// would: send a certConf with the default routing alias and require a
// well-formed pkiConf back.
var cmpCmd = &cobra.Command{
	Use:   "cmp",
	Short: "CMP endpoint tools",
}

var cmpHealthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Verify the CMP confirmation exchange end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cmp.NewClient(serverURL + "/api/v1/cmp")
		if err := client.ConfirmRoundTrip(cmd.Context(), []byte(cmpKeyID)); err != nil {
			return fmt.Errorf("cmp healthcheck failed: %w", err)
		}
		fmt.Println("CMP exchange OK")
		return nil
	},
}

var cmpConfirmCmd = &cobra.Command{
	Use:   "confirm [transaction-id]",
	Short: "Confirm an enrollment via certConf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cmp.NewClient(serverURL + "/api/v1/cmp")
		if err := client.ConfirmRoundTrip(cmd.Context(), []byte(args[0])); err != nil {
			return fmt.Errorf("cmp confirm failed: %w", err)
		}
		fmt.Printf("Enrollment %s confirmed\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cmpCmd)
	cmpCmd.AddCommand(cmpHealthcheckCmd)
	cmpCmd.AddCommand(cmpConfirmCmd)
	cmpHealthcheckCmd.Flags().StringVar(&cmpKeyID, "key-id", cmp.DefaultSenderKID, "Sender key identifier (PBM salt and senderKID)")
}
