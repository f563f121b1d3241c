// Copyright © 2018 NAME HERE <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log"
	"github.com/spf13/cobra"

	"github.com/quorumcontrol/ballotbox/config"
	"github.com/quorumcontrol/ballotbox/sdk/tracing"
)

const serviceName = "ballotbox"

var (
	cfgFile    string
	logLvlName string
	nodeURL    string

	conf *config.Config
)

var log = logging.Logger("cmd")

var logLevels = map[string]struct{}{
	"critical": {},
	"error":    {},
	"warning":  {},
	"info":     {},
	"debug":    {},
}

func setLogLevel(lvlName string) error {
	if _, ok := logLevels[lvlName]; !ok {
		return fmt.Errorf("invalid log level %v. Must be either `critical`, `error`, `warning`, `info` or `debug`", lvlName)
	}
	return logging.SetLogLevel("*", strings.ToUpper(lvlName))
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ballotbox",
	Short: "Follow and vote on democracy referenda",
	Long: `ballotbox watches referenda on a substrate style democracy chain
and submits votes signed locally or by an air-gapped signer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(logLvlName); err != nil {
			return err
		}

		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if nodeURL != "" {
			c.NodeURL = nodeURL
		}
		conf = c

		switch conf.TracingSystem {
		case config.JaegerTracing:
			if err := tracing.StartJaeger(serviceName); err != nil {
				log.Warningf("tracing disabled: %v", err)
			}
		case config.ElasticTracing:
			tracing.StartElastic()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := tracing.Stop(); err != nil {
			log.Warningf("error stopping tracing: %v", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLvlName, "log-level", "L", "error", "Log level")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a toml config file (default is conf.toml in the user config dir)")
	rootCmd.PersistentFlags().StringVarP(&nodeURL, "node", "n", "", "node websocket url, overrides the config file")
}
