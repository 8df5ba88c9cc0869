package oss

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/review_go_server/config"
)

type Client struct {
	client     *oss.Client
	bucket     *oss.Bucket
	bucketName string
	cdnDomain  string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &Client{
		client:     client,
		bucket:     bucket,
		bucketName: cfg.BucketName,
		cdnDomain:  cfg.CDNDomain,
	}, nil
}

// UploadRunArtifact 上传某次运行的结果归档（建议与摘要 JSON）
func (c *Client) UploadRunArtifact(reviewID int64, runID string, data []byte) (string, error) {
	objectKey := fmt.Sprintf("runs/%d/%s.json", reviewID, runID)

	err := c.bucket.PutObject(objectKey, bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return "", fmt.Errorf("failed to upload run artifact: %w", err)
	}

	return c.GetURL(objectKey), nil
}

// GetURL 获取对象的访问 URL，配置了 CDN 域名时走 CDN
func (c *Client) GetURL(objectKey string) string {
	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimSuffix(c.cdnDomain, "/"), objectKey)
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucketName, c.client.Config.Endpoint, objectKey)
}

// Delete 删除对象
func (c *Client) Delete(objectKey string) error {
	return c.bucket.DeleteObject(objectKey)
}
