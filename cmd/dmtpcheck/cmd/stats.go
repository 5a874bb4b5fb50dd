/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmts/dmtp/stats"
)

var statsURL string

func init() {
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsURL, "url", "u", "http://localhost:8888", "monitoring URL of a running server")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print monitoring counters of a running server in JSON format",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		counters, err := stats.FetchCounters(statsURL)
		if err != nil {
			log.Fatal(err)
		}
		toPrint, err := json.Marshal(counters)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(toPrint))
	},
}
