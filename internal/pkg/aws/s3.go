package aws

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	sConfig "github.com/andrewmarklloyd/device-monitor/internal/pkg/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	backupPrefix = "backups"
)

type Client struct {
	S3                     *s3.Client
	Bucket                 string
	FullBackupFileKey      string
	FullBackupTmpWritePath string
	RetentionBackupFileKey string
	RetentionTmpWritePath  string
}

func NewClient(serverConfig sConfig.ServerConfig) (Client, error) {
	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(serverConfig.S3Config.AccessKeyID, serverConfig.S3Config.SecretAccessKey, "")),
		config.WithRegion(serverConfig.S3Config.Region),
	)
	if err != nil {
		return Client{}, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if serverConfig.S3Config.URL != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(serverConfig.S3Config.URL)
		}
	})

	return Client{
		S3:                     client,
		Bucket:                 serverConfig.S3Config.Bucket,
		FullBackupFileKey:      fmt.Sprintf("%s/%s/full.jsonl", backupPrefix, serverConfig.AppName),
		FullBackupTmpWritePath: fmt.Sprintf("/tmp/%s-full.jsonl", serverConfig.AppName),
		RetentionBackupFileKey: fmt.Sprintf("%s/%s/retention.jsonl", backupPrefix, serverConfig.AppName),
		RetentionTmpWritePath:  fmt.Sprintf("/tmp/%s-retention.jsonl", serverConfig.AppName),
	}, nil
}

func (c *Client) UploadBackupFile(ctx context.Context, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	uploader := manager.NewUploader(c.S3)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	return nil
}

func (c *Client) backupFileExists(ctx context.Context, key string) (bool, error) {
	paginator := s3.NewListObjectsV2Paginator(c.S3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.Bucket),
		Prefix: aws.String(backupPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, err
		}
		for _, obj := range page.Contents {
			if aws.ToString(obj.Key) == key {
				return true, nil
			}
		}
	}
	return false, nil
}

// DownloadOrCreateBackupFile fetches key into path so new rows can be
// appended, or leaves an empty file when the backup does not exist yet.
func (c *Client) DownloadOrCreateBackupFile(ctx context.Context, path, key string) error {
	tmpFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer tmpFile.Close()

	exists, err := c.backupFileExists(ctx, key)
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}
	if exists {
		downloader := manager.NewDownloader(c.S3)
		_, err = downloader.Download(ctx, tmpFile, &s3.GetObjectInput{
			Bucket: aws.String(c.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// WriteBackupFile writes rows to path as JSON lines.
func (c *Client) WriteBackupFile(rows []sConfig.HistoryRow, append bool, path string) error {
	return writeJSONLines(rows, append, path)
}

func writeJSONLines(rows []sConfig.HistoryRow, append bool, path string) error {
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	datawriter := bufio.NewWriter(file)
	for _, data := range rows {
		j, err := json.Marshal(data)
		if err != nil {
			return err
		}
		_, err = datawriter.WriteString(fmt.Sprintf("%s\n", string(j)))
		if err != nil {
			return err
		}
	}
	return datawriter.Flush()
}
