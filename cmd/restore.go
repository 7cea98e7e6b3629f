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
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clusterdb/backupreader/config"
	"github.com/clusterdb/backupreader/internal/applier"
	"github.com/clusterdb/backupreader/internal/cdcstream"
	"github.com/clusterdb/backupreader/internal/datareader"
	"github.com/clusterdb/backupreader/internal/dictcodec"
	"github.com/clusterdb/backupreader/internal/logreader"
	"github.com/clusterdb/backupreader/internal/metadatareader"
	"github.com/clusterdb/backupreader/internal/restoremetrics"
	"github.com/clusterdb/backupreader/internal/restoresink"
	"github.com/clusterdb/backupreader/internal/schema"
	"github.com/clusterdb/backupreader/internal/tupleexport"
)

var (
	restoreCtlPath  string
	restoreDataPath []string
	restoreLogPath  string
	restoreBackupID uint32
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Decode a backup file set and apply it to the configured sinks",
	Long:  `Decodes the control, data, and log files of one backup and drives the decoded stream into whichever of the applier, CDC publisher, and Parquet exporter are enabled in configuration.`,
	RunE:  runRestore,
}

func init() {
	restoreCmd.Flags().StringVar(&restoreCtlPath, "ctl", "", "path to the .ctl control file")
	restoreCmd.Flags().StringArrayVar(&restoreDataPath, "data", nil, "path to a .Data data file (repeatable)")
	restoreCmd.Flags().StringVar(&restoreLogPath, "log", "", "path to the .log log file (optional)")
	restoreCmd.Flags().Uint32Var(&restoreBackupID, "backup-id", 0, "backup id recorded in every file's header")
	if err := restoreCmd.MarkFlagRequired("ctl"); err != nil {
		panic(fmt.Errorf("mark ctl flag required: %w", err))
	}
}

func runRestore(c *cobra.Command, _ []string) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var sink restoresink.Sink
	if cfg.Telemetry.Enabled {
		sink = restoresink.NewOTelFanout(cfg.Telemetry.ServiceName, cfg.Telemetry.Debug)
	} else {
		sink = restoresink.NewSlog(slog.Default())
	}

	mr, err := metadatareader.New(restoreCtlPath, restoreBackupID, dictcodec.Parse, sink)
	if err != nil {
		return fmt.Errorf("open control file: %w", err)
	}
	defer mr.Close()

	metadata, err := mr.LoadContent()
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	sink.Info("loaded metadata", "tables", len(metadata.Tables()), "startGCP", metadata.StartGCP, "stopGCP", metadata.StopGCP)

	var metrics *restoremetrics.Recorder
	if cfg.Metrics.Enabled {
		metrics, err = restoremetrics.New(nil)
		if err != nil {
			return fmt.Errorf("set up metrics: %w", err)
		}
		defer metrics.Shutdown(ctx)
	}

	var app *applier.Applier
	if cfg.Applier.Enabled {
		app, err = applier.New(ctx, cfg.Applier.DSN, cfg.Applier.Schema, restoreBackupID, metadata.StartGCP, metadata.StopGCP)
		if err != nil {
			return fmt.Errorf("set up applier: %w", err)
		}
	}

	var publisher *cdcstream.Publisher
	if cfg.CDC.Enabled {
		publisher, err = cdcstream.NewPublisher(cfg.CDC.Brokers, cfg.CDC.Topic)
		if err != nil {
			return fmt.Errorf("set up cdc publisher: %w", err)
		}
		defer publisher.Close()
	}

	var (
		runErr error
		mu     sync.Mutex
	)

	g := new(errgroup.Group)
	g.SetLimit(cfg.Restore.DataFileConcurrency)
	for _, dataPath := range restoreDataPath {
		dataPath := dataPath
		g.Go(func() error {
			if err := restoreOneDataFile(ctx, dataPath, metadata, sink, app, metrics, cfg); err != nil {
				mu.Lock()
				runErr = multierror.Append(runErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if restoreLogPath != "" {
		if err := restoreLogFile(ctx, restoreLogPath, metadata, sink, app, publisher, metrics); err != nil {
			runErr = multierror.Append(runErr, err)
		}
	}

	if app != nil {
		if err := app.Close(ctx, runErr); err != nil {
			runErr = multierror.Append(runErr, err)
		}
	}

	return runErr
}

func restoreOneDataFile(ctx context.Context, path string, metadata *schema.Metadata, sink restoresink.Sink, app *applier.Applier, metrics *restoremetrics.Recorder, cfg *config.Config) error {
	dr, err := datareader.New(path, restoreBackupID, metadata, sink)
	if err != nil {
		return fmt.Errorf("open data file %s: %w", path, err)
	}
	defer dr.Close()

	exporters := map[uint32]*tupleexport.Writer{}
	defer func() {
		for _, w := range exporters {
			_ = w.Close()
		}
	}()

	for {
		table, fragmentId, err := dr.NextFragment()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("advance fragment in %s: %w", path, err)
		}

		decodeFragment := func() error {
			for {
				tuple, err := dr.NextTuple()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if metrics != nil {
					metrics.TuplesDecoded.Add(ctx, 1)
				}
				if app != nil {
					if err := app.ApplyTuple(ctx, tuple); err != nil {
						return err
					}
				}
				if cfg.Export.Enabled {
					w, ok := exporters[table.TableId]
					if !ok {
						w, err = tupleexport.New(fmt.Sprintf("%s/%s.parquet", cfg.Export.Dir, table.Name), table)
						if err != nil {
							return err
						}
						exporters[table.TableId] = w
					}
					if err := w.WriteTuple(tuple); err != nil {
						return err
					}
				}
			}
		}

		if metrics != nil {
			if err := metrics.TimeFragment(ctx, decodeFragment); err != nil {
				return fmt.Errorf("decode fragment %d of table %s: %w", fragmentId, table.Name, err)
			}
		} else if err := decodeFragment(); err != nil {
			return fmt.Errorf("decode fragment %d of table %s: %w", fragmentId, table.Name, err)
		}
	}
}

func restoreLogFile(ctx context.Context, path string, metadata *schema.Metadata, sink restoresink.Sink, app *applier.Applier, publisher *cdcstream.Publisher, metrics *restoremetrics.Recorder) error {
	lr, err := logreader.New(path, restoreBackupID, metadata, sink)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	defer lr.Close()

	for {
		entry, err := lr.NextLogEntry()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("advance log entry in %s: %w", path, err)
		}
		if metrics != nil {
			metrics.LogEntriesDecoded.Add(ctx, 1)
		}
		if app != nil {
			if err := app.ApplyLogEntry(ctx, entry); err != nil {
				return err
			}
		}
		if publisher != nil {
			if err := publisher.Publish(ctx, entry); err != nil {
				return err
			}
		}
	}
}
