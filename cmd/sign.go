package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "produce a gateway Authorization header for a request",
	Run:   Perform("sign", runSign),
}

func init() {
	RootCmd.AddCommand(signCmd)

	// method - defaults to GET
	signCmd.Flags().String("method", "GET",
		"the http method of the request")
	Must(viper.BindPFlag("method", signCmd.Flags().Lookup("method")))

	// path - the request target, required
	signCmd.Flags().String("path", "",
		"the request path, including any query string")
	Must(viper.BindPFlag("path", signCmd.Flags().Lookup("path")))
	Must(signCmd.MarkFlagRequired("path"))

	// body - the exact bytes the signature covers
	signCmd.Flags().String("body", "",
		"the exact request body the signature covers")
	Must(viper.BindPFlag("body", signCmd.Flags().Lookup("body")))
}

func runSign(cmd *cobra.Command, args []string) error {
	signator, err := merchantSignator()
	if err != nil {
		return err
	}

	method := strings.ToUpper(viper.GetString("method"))
	target := viper.GetString("wechatpay-server") + viper.GetString("path")

	var body io.Reader
	if b := viper.GetString("body"); len(b) > 0 {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return err
	}
	if err := signator.SignRequest(req); err != nil {
		return err
	}

	fmt.Println(req.Header.Get("Authorization"))
	return nil
}
