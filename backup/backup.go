// Package backup uploads store snapshots to S3-compatible storage
// and downloads them back.
//
// Snapshots are stored as ${prefix}/invoices-${YYYYMMDD-HHMMSS}${ext}
// so that listing the prefix returns them sorted oldest to newest.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kjk/invoicing/linestore"
	"github.com/kjk/invoicing/log"
	"github.com/kjk/invoicing/snapshot"
	"github.com/kjk/invoicing/store"
)

const (
	namePrefix = "invoices-"
	timeFormat = "20060102-150405"
	// extension of snapshots created by Backup
	DefaultExt = ".txt.zst"
)

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	Prefix   string
	// use https
	Secure       bool
	RequestTrace io.Writer
}

type Client struct {
	Client *minio.Client
	config *Config
	Bucket string
}

func validateConfig(c *Config) error {
	if c == nil {
		return errors.New("must provide config")
	}
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return errors.New("must provide all fields in config")
	}
	return nil
}

// New connects to storage and verifies that the bucket exists
func New(ctx context.Context, config *Config) (*Client, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	c := config
	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: c.Secure,
	})
	if err != nil {
		return nil, err
	}
	if c.RequestTrace != nil {
		mc.TraceOn(c.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", c.Bucket)
	}

	return &Client{
		Client: mc,
		config: c,
		Bucket: c.Bucket,
	}, nil
}

// RemotePath returns remote path of a snapshot created at t
func RemotePath(prefix string, t time.Time, ext string) string {
	name := namePrefix + t.UTC().Format(timeFormat) + ext
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// IsSnapshotPath returns true if remotePath looks like a path created
// by RemotePath
func IsSnapshotPath(remotePath string) bool {
	name := path.Base(remotePath)
	if !strings.HasPrefix(name, namePrefix) {
		return false
	}
	name = name[len(namePrefix):]
	if len(name) < len(timeFormat) {
		return false
	}
	_, err := time.Parse(timeFormat, name[:len(timeFormat)])
	return err == nil
}

func listPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return namePrefix
	}
	return prefix + "/" + namePrefix
}

// Upload uploads a local snapshot file
func (c *Client) Upload(ctx context.Context, remotePath string, localPath string) (minio.UploadInfo, error) {
	contentType := mime.TypeByExtension(filepath.Ext(remotePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := minio.PutObjectOptions{
		ContentType: contentType,
	}
	return c.Client.FPutObject(ctx, c.Bucket, remotePath, localPath, opts)
}

// Download downloads remotePath to dstPath. dstPath is only
// over-written after the whole file has been downloaded.
func (c *Client) Download(ctx context.Context, remotePath string, dstPath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	// ensure there's a dir for destination file
	if err = os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	d, err := io.ReadAll(obj)
	if err != nil {
		return err
	}
	return linestore.WriteFile(dstPath, d)
}

// List returns remote paths of snapshots, oldest first
func (c *Client) List(ctx context.Context) ([]string, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    listPrefix(c.config.Prefix),
		Recursive: true,
	}
	var res []string
	for oi := range c.Client.ListObjects(ctx, c.Bucket, opts) {
		if oi.Err != nil {
			return nil, oi.Err
		}
		if IsSnapshotPath(oi.Key) {
			res = append(res, oi.Key)
		}
	}
	sort.Strings(res)
	return res, nil
}

// Latest returns remote path of the most recent snapshot
func (c *Client) Latest(ctx context.Context) (string, error) {
	paths, err := c.List(ctx)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no snapshots in bucket '%s'", c.Bucket)
	}
	return paths[len(paths)-1], nil
}

// Remove deletes a remote snapshot
func (c *Client) Remove(ctx context.Context, remotePath string) error {
	return c.Client.RemoveObject(ctx, c.Bucket, remotePath, minio.RemoveObjectOptions{})
}

// Backup exports records of s to a temporary snapshot and uploads it.
// Returns remote path of the snapshot.
func Backup[T store.Record](ctx context.Context, c *Client, s *store.Store[T]) (string, error) {
	dir, err := os.MkdirTemp("", "invoicing-backup-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	remotePath := RemotePath(c.config.Prefix, time.Now(), DefaultExt)
	localPath := filepath.Join(dir, path.Base(remotePath))
	n, err := snapshot.Export(s, localPath)
	if err != nil {
		return "", err
	}
	timeStart := time.Now()
	info, err := c.Upload(ctx, remotePath, localPath)
	if err != nil {
		return "", fmt.Errorf("backup: upload of '%s' failed: %w", remotePath, err)
	}
	log.Logf("backup: uploaded %d records to '%s', %d bytes in %s\n", n, remotePath, info.Size, time.Since(timeStart))
	return remotePath, nil
}

// Restore downloads a snapshot and replaces records of s with its records.
// If remotePath is empty, the most recent snapshot is used.
func Restore[T store.Record](ctx context.Context, c *Client, s *store.Store[T], remotePath string) (int, error) {
	var err error
	if remotePath == "" {
		remotePath, err = c.Latest(ctx)
		if err != nil {
			return 0, err
		}
	}
	dir, err := os.MkdirTemp("", "invoicing-restore-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	// extension decides decompression so keep the remote name
	localPath := filepath.Join(dir, path.Base(remotePath))
	if err = c.Download(ctx, remotePath, localPath); err != nil {
		return 0, fmt.Errorf("backup: download of '%s' failed: %w", remotePath, err)
	}
	n, err := snapshot.Restore(s, localPath)
	if err != nil {
		return 0, err
	}
	log.Logf("backup: restored %d records from '%s'\n", n, remotePath)
	return n, nil
}
