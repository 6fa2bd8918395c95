package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"VKSaver/config"
	"VKSaver/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// 对象存储中归档的统一前缀
	archivePrefix = "archives/"
	// S3 预签名链接最长 7 天
	maxLinkTTL = 7 * 24 * time.Hour
)

// ErrArchiveNotFound 归档不存在
var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveStore 把打包好的 zip 上传到 MinIO 并返回下载链接。
// 配置了 publicBase 时链接指向本服务的 /archives/ 路由，否则为预签名链接。
type ArchiveStore struct {
	client     *minio.Client
	bucket     string
	region     string
	linkTTL    time.Duration
	publicBase string
}

// NewArchiveStore 根据配置创建 MinIO 客户端，不会发起网络请求
func NewArchiveStore(cfg *config.Config) (*ArchiveStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ttl := time.Duration(cfg.Pipeline.ShareDurationDays) * 24 * time.Hour
	if ttl <= 0 || ttl > maxLinkTTL {
		ttl = maxLinkTTL
	}
	return &ArchiveStore{
		client:     client,
		bucket:     cfg.MinioBucket,
		region:     cfg.MinioRegion,
		linkTTL:    ttl,
		publicBase: strings.TrimRight(cfg.ArchiveBaseURL, "/"),
	}, nil
}

// EnsureBucket 检查存储桶，不存在则创建
func (s *ArchiveStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Info("[ArchiveStore] bucket exists", logger.String("bucket", s.bucket))
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("[ArchiveStore] bucket created", logger.String("bucket", s.bucket))
	return nil
}

// Upload 上传文件并返回下载链接
func (s *ArchiveStore) Upload(ctx context.Context, path string) (string, error) {
	key := objectKey(path)
	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		logger.Error("[ArchiveStore.Upload] put failed", logger.String("key", key), logger.ErrorField(err))
		return "", fmt.Errorf("上传归档失败: %w", err)
	}
	logger.Info("[ArchiveStore.Upload] uploaded", logger.String("key", key), logger.Int64("size", info.Size))
	if s.publicBase != "" {
		return s.publicBase + "/archives/" + url.PathEscape(filepath.Base(path)), nil
	}
	return s.presign(ctx, key)
}

// Open 打开名为 name 的归档，返回内容与大小
func (s *ArchiveStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	key := objectKey(name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("读取归档失败: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrArchiveNotFound
		}
		return nil, 0, fmt.Errorf("读取归档失败: %w", err)
	}
	return obj, info.Size, nil
}

func (s *ArchiveStore) presign(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.linkTTL, nil)
	if err != nil {
		return "", fmt.Errorf("生成下载链接失败: %w", err)
	}
	return u.String(), nil
}

func objectKey(path string) string {
	return archivePrefix + filepath.Base(path)
}
