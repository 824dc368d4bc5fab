package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidepay/wechatpay-go/clients"
	"github.com/tidepay/wechatpay-go/clients/wechatpay"
	appctx "github.com/tidepay/wechatpay-go/context"
	errorutils "github.com/tidepay/wechatpay-go/errors"
	"github.com/tidepay/wechatpay-go/httpsignature"
	"github.com/tidepay/wechatpay-go/logging"
)

var (
	// RootCmd is the base command (what the binary is called)
	RootCmd = &cobra.Command{
		Use:   "wechatpay",
		Short: "wechatpay provides merchant side tooling for the WeChat Pay v3 gateway",
	}
	ctx = context.Background()
)

// Execute - the main entrypoint for all subcommands in wechatpay
func Execute(version, commit, buildTime string) {
	// setup context with logging, but first we need to setup the environment
	var logger *zerolog.Logger
	ctx = context.WithValue(ctx, appctx.EnvironmentCTXKey, viper.Get("environment"))
	ctx = context.WithValue(ctx, appctx.DebugLoggingCTXKey, viper.GetBool("debug"))
	ctx, logger = logging.SetupLogger(ctx)

	ctx = context.WithValue(ctx, appctx.VersionCTXKey, version)
	ctx = context.WithValue(ctx, appctx.CommitCTXKey, commit)
	ctx = context.WithValue(ctx, appctx.BuildTimeCTXKey, buildTime)

	// execute the root cmd
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("./wechatpay command encountered an error")
		os.Exit(1)
	}
}

func init() {
	// env - defaults to local
	RootCmd.PersistentFlags().String("environment", "local",
		"the default environment")
	Must(viper.BindPFlag("environment", RootCmd.PersistentFlags().Lookup("environment")))
	Must(viper.BindEnv("environment", "ENV"))

	// debug logging - defaults to off
	RootCmd.PersistentFlags().Bool("debug", false, "turn on debug logging")
	Must(viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug")))
	Must(viper.BindEnv("debug", "DEBUG"))

	// gateway base url (required by all)
	RootCmd.PersistentFlags().String("wechatpay-server", wechatpay.ProductionAPI,
		"the gateway base url")
	Must(viper.BindPFlag("wechatpay-server", RootCmd.PersistentFlags().Lookup("wechatpay-server")))
	Must(viper.BindEnv("wechatpay-server", "WECHATPAY_SERVER"))

	// merchant id (required by all)
	RootCmd.PersistentFlags().String("mchid", "",
		"the merchant id issued by the gateway")
	Must(viper.BindPFlag("mchid", RootCmd.PersistentFlags().Lookup("mchid")))
	Must(viper.BindEnv("mchid", "WECHATPAY_MCHID"))

	// merchant certificate serial (required by all)
	RootCmd.PersistentFlags().String("serial", "",
		"the serial of the merchant certificate")
	Must(viper.BindPFlag("serial", RootCmd.PersistentFlags().Lookup("serial")))
	Must(viper.BindEnv("serial", "WECHATPAY_SERIAL"))

	// merchant private key path (required by all)
	RootCmd.PersistentFlags().String("private-key", "",
		"path to the merchant private key pem")
	Must(viper.BindPFlag("private-key", RootCmd.PersistentFlags().Lookup("private-key")))
	Must(viper.BindEnv("private-key", "WECHATPAY_PRIVATE_KEY"))

	RootCmd.AddCommand(VersionCmd)
}

// VersionCmd is the command to get the code's version information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "get the version of this binary",
	Run:   versionRun,
}

func versionRun(command *cobra.Command, args []string) {
	version := command.Context().Value(appctx.VersionCTXKey).(string)
	commit := command.Context().Value(appctx.CommitCTXKey).(string)
	buildTime := command.Context().Value(appctx.BuildTimeCTXKey).(string)
	fmt.Printf("version: %s\ncommit: %s\nbuild time: %s\n",
		version, commit, buildTime,
	)
}

// Must helper to make sure there is no errors
func Must(err error) {
	if err != nil {
		log.Printf("failed to initialize: %s\n", err.Error())
		// exit with failure
		os.Exit(1)
	}
}

// Perform performs a run
func Perform(action string, fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		err := fn(cmd, args)
		if err != nil {
			logger, lerr := appctx.GetLogger(cmd.Context())
			if lerr != nil {
				_, logger = logging.SetupLogger(cmd.Context())
			}

			log := logger.Err(err).Str("action", action)
			httpError, ok := err.(*errorutils.ErrorBundle)
			if ok {
				state, ok := httpError.Data().(clients.HTTPState)
				if ok {
					log = log.Int("status", state.Status).
						Str("path", state.Path).
						Interface("data", state.Body)
				}
			}
			log.Msg("failed")
		}
		<-time.After(10 * time.Millisecond)
		if err != nil {
			os.Exit(1)
		}
	}
}

// merchantSignator assembles a request signator from the merchant identity
// flags shared by every subcommand that talks to the gateway
func merchantSignator() (*httpsignature.ParameterizedSignator, error) {
	mchID := viper.GetString("mchid")
	if len(mchID) == 0 {
		return nil, errorutils.New(nil, "mchid is required", nil)
	}
	serial := viper.GetString("serial")
	if len(serial) == 0 {
		return nil, errorutils.New(nil, "serial is required", nil)
	}

	keyPEM, err := os.ReadFile(viper.GetString("private-key"))
	if err != nil {
		return nil, fmt.Errorf("failed to read merchant private key: %w", err)
	}
	priv, err := httpsignature.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	return httpsignature.NewParameterizedSignator(
		httpsignature.SignatureParams{
			Algorithm:  httpsignature.WECHATPAY2SHA256RSA2048,
			MerchantID: mchID,
			SerialNo:   serial,
		},
		priv,
	), nil
}
