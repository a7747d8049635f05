package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Manage partitioned revocation lists",
}

var crlFlushCmd = &cobra.Command{
	Use:   "flush <ca> <partition>",
	Short: "Flush pending revocations and sign the partition's next list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Partition  uint32    `json:"partition"`
			Number     uint64    `json:"number"`
			Revoked    int       `json:"revoked"`
			NextUpdate time.Time `json:"next_update"`
		}
		path := "/cas/" + args[0] + "/crl/" + args[1] + "/flush"
		if err := callAPI(cmd.Context(), "POST", path, nil, &resp); err != nil {
			return err
		}
		fmt.Printf("Signed CRL number %d for partition %d (%d revocations, next update %s)\n",
			resp.Number, resp.Partition, resp.Revoked, resp.NextUpdate.Format(time.RFC3339))
		return nil
	},
}

var crlSuspendCmd = &cobra.Command{
	Use:   "suspend <ca> <partition>",
	Short: "Suspend a partition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/cas/" + args[0] + "/crl/" + args[1] + "/suspend"
		if err := callAPI(cmd.Context(), "POST", path, nil, nil); err != nil {
			return err
		}
		fmt.Printf("Partition %s of %s suspended\n", args[1], args[0])
		return nil
	},
}

var crlResumeCmd = &cobra.Command{
	Use:   "resume <ca> <partition>",
	Short: "Resume a suspended partition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/cas/" + args[0] + "/crl/" + args[1] + "/resume"
		if err := callAPI(cmd.Context(), "POST", path, nil, nil); err != nil {
			return err
		}
		fmt.Printf("Partition %s of %s resumed\n", args[1], args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crlCmd)
	crlCmd.AddCommand(crlFlushCmd)
	crlCmd.AddCommand(crlSuspendCmd)
	crlCmd.AddCommand(crlResumeCmd)
}
