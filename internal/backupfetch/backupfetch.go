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

// Package backupfetch stages a node's backup file set from S3 into a
// local directory so the core readers, which only ever open local
// paths, can be pointed at it. Fetching a backup is outside the core's
// scope by design; this is the consumer-side implementation of that
// responsibility.
package backupfetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Client downloads a backup file set from an S3 bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client using the default AWS credential chain. If
// accessKey is non-empty, it and secretKey override the chain with
// static credentials, for on-prem S3-compatible stores that don't run
// an instance metadata service.
func New(ctx context.Context, bucket, accessKey, secretKey string) (*Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{s3: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// FileSet names the three backup files one restore run needs, keyed by
// their S3 object keys relative to the client's bucket.
type FileSet struct {
	ControlKey string
	DataKeys   []string
	LogKey     string
}

// Fetch downloads every object in set into destDir, preserving each
// object's base name, and returns the set of local paths in the same
// shape. A missing log file (no trailing LOG for a fully applied
// backup) is tolerated; a missing control or data file is not.
func (c *Client) Fetch(ctx context.Context, destDir string, set FileSet) (localCtl string, localData []string, localLog string, err error) {
	downloader := manager.NewDownloader(c.s3)

	localCtl, err = c.download(ctx, downloader, destDir, set.ControlKey, false)
	if err != nil {
		return "", nil, "", fmt.Errorf("fetch control file: %w", err)
	}

	for _, key := range set.DataKeys {
		path, err := c.download(ctx, downloader, destDir, key, false)
		if err != nil {
			return "", nil, "", fmt.Errorf("fetch data file %s: %w", key, err)
		}
		localData = append(localData, path)
	}

	if set.LogKey != "" {
		localLog, err = c.download(ctx, downloader, destDir, set.LogKey, true)
		if err != nil {
			return "", nil, "", fmt.Errorf("fetch log file: %w", err)
		}
	}

	return localCtl, localData, localLog, nil
}

func (c *Client) download(ctx context.Context, downloader *manager.Downloader, destDir, key string, optional bool) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(key))
	f, err := createFile(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if optional && isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("download s3://%s/%s: %w", c.bucket, key, err)
	}
	return dest, nil
}

func createFile(path string) (*os.File, error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}
