package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidepay/wechatpay-go/certstore"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "refresh and list the platform certificates",
	Run:   Perform("certs", runCerts),
}

func init() {
	RootCmd.AddCommand(certsCmd)

	// apiv3Key - opens the certificate download envelopes
	certsCmd.Flags().String("apiv3-key", "",
		"the 32 byte apiv3 envelope key")
	Must(viper.BindPFlag("apiv3-key", certsCmd.Flags().Lookup("apiv3-key")))
	Must(viper.BindEnv("apiv3-key", "WECHATPAY_APIV3_KEY"))

	// pem - dump certificates, not just their windows
	certsCmd.Flags().Bool("pem", false,
		"also print each certificate pem")
	Must(viper.BindPFlag("pem", certsCmd.Flags().Lookup("pem")))
}

func runCerts(cmd *cobra.Command, args []string) error {
	signator, err := merchantSignator()
	if err != nil {
		return err
	}

	store, err := certstore.New(viper.GetString("wechatpay-server"), signator, []byte(viper.GetString("apiv3-key")))
	if err != nil {
		return err
	}
	if err := store.Refresh(cmd.Context()); err != nil {
		return err
	}

	for _, cert := range store.All() {
		fmt.Printf("serial: %s\n  not before: %s\n  not after:  %s\n",
			cert.SerialNo,
			cert.NotBefore.Format(time.RFC3339),
			cert.NotAfter.Format(time.RFC3339),
		)
		if viper.GetBool("pem") {
			fmt.Printf("%s", cert.PEM)
		}
	}
	return nil
}
