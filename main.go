// main - main entry-point to wechatpay commands through cobra
// individual commands are outlined in ./cmd/
package main

import (
	"github.com/tidepay/wechatpay-go/cmd"
	"github.com/tidepay/wechatpay-go/logging"
)

var (
	// variables will be overwritten at build time
	version   string
	commit    string
	buildTime string
)

func main() {
	defer func() {
		if logging.Writer != nil {
			logging.Writer.Close()
		}
	}()
	cmd.Execute(version, commit, buildTime)
}
