package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"VKSaver/logger"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 归档文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListArchives 列出前缀下的归档，按修改时间倒序
func (s *ArchiveStore) ListArchives(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("检查存储桶是否存在失败: %w", err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("存储桶 %s 不存在", s.bucket)
	}

	stats := &BucketStats{}
	var objects []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    archivePrefix + strings.TrimPrefix(prefix, archivePrefix),
		Recursive: true,
	}) {
		if object.Err != nil {
			logger.Warn("[ArchiveStore.ListArchives] list error", logger.ErrorField(object.Err))
			continue
		}
		objects = append(objects, ObjectInfo{Key: object.Key, Size: object.Size, LastModified: object.LastModified})
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	return objects, stats, nil
}

// DeleteArchives 删除前缀下的全部归档，olderThan > 0 时只删除更早的对象
func (s *ArchiveStore) DeleteArchives(ctx context.Context, prefix string, olderThan time.Duration) (int, error) {
	objects, _, err := s.ListArchives(ctx, prefix)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	objectsCh := make(chan minio.ObjectInfo, len(objects))
	count := 0
	for _, obj := range objects {
		if olderThan > 0 && obj.LastModified.After(cutoff) {
			continue
		}
		objectsCh <- minio.ObjectInfo{Key: obj.Key}
		count++
	}
	close(objectsCh)

	if count == 0 {
		return 0, nil
	}
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", rerr.ObjectName, rerr.Err)
		}
	}
	logger.Info("[ArchiveStore.DeleteArchives] removed", logger.String("prefix", prefix), logger.Int("count", count))
	return count, nil
}
