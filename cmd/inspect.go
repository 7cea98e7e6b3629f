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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/metadatareader"
	"github.com/clusterdb/backupreader/internal/restoresink"
)

var (
	inspectCtlPath  string
	inspectBackupID uint32
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the tables and GCP window declared by a control file",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectCtlPath, "ctl", "", "path to the .ctl control file")
	inspectCmd.Flags().Uint32Var(&inspectBackupID, "backup-id", 0, "backup id recorded in the control file's header")
	if err := inspectCmd.MarkFlagRequired("ctl"); err != nil {
		panic(fmt.Errorf("mark ctl flag required: %w", err))
	}
}

func runInspect(c *cobra.Command, _ []string) error {
	mr, err := metadatareader.New(inspectCtlPath, inspectBackupID, dictcodec.Parse, restoresink.Noop)
	if err != nil {
		return fmt.Errorf("open control file: %w", err)
	}
	defer mr.Close()

	metadata, err := mr.LoadContent()
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	out := c.OutOrStdout()
	fmt.Fprintf(out, "startGCP=%d stopGCP=%d tables=%d\n", metadata.StartGCP, metadata.StopGCP, len(metadata.Tables()))
	for _, t := range metadata.Tables() {
		fmt.Fprintf(out, "  table %d %q: %d keys, %d fixed, %d variable, ndbVersion=%d\n",
			t.TableId, t.Name, len(t.FixedKeys), len(t.FixedAttribs), len(t.VariableAttribs), t.BackupVersion)
	}
	return nil
}
