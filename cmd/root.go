// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "backupreader",
	Short: "Read NDB-style cluster backup files",
	Long:  `Decode a cluster backup file set (control file, data files, log file) and drive the decoded stream into a target system.`,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(inspectCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main() and only needs to
// happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
