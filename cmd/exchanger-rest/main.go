/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package exchanger-rest (Presentation Exchanger REST Server).
//
//
// Terms Of Service:
//
//
//     Schemes: https
//     Version: 0.1.0
//     License: SPDX-License-Identifier: Apache-2.0
//
//     Consumes:
//     - application/json
//     - application/x-www-form-urlencoded
//
//     Produces:
//     - application/json
//     - application/oauth-authz-req+jwt
//
// swagger:meta
package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-exchanger/cmd/exchanger-rest/startcmd"
)

// This is an application which starts the presentation exchanger API on given port.
func main() {
	rootCmd := &cobra.Command{
		Use: "exchanger-rest",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	logger := log.New("aries-exchanger/exchanger-rest")

	startCmd, err := startcmd.Cmd(&startcmd.HTTPServer{})
	if err != nil {
		logger.Fatalf(err.Error())
	}

	rootCmd.AddCommand(startCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Failed to run exchanger-rest: %s", err)
	}
}
