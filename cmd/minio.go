package cmd

import (
	"context"
	"fmt"
	"time"

	"VKSaver/config"
	"VKSaver/core/pipeline"
	"VKSaver/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioDelete    bool
	minioOlderThan time.Duration
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `列出已上传的归档及统计信息，或删除超过指定时长的归档。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewArchiveStore(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if minioDelete {
			n, err := store.DeleteArchives(ctx, minioPrefix, minioOlderThan)
			if err != nil {
				return fmt.Errorf("删除归档失败: %w", err)
			}
			fmt.Fprintf(out, "已删除 %d 个归档\n", n)
			return nil
		}

		objects, stats, err := store.ListArchives(ctx, minioPrefix)
		if err != nil {
			return fmt.Errorf("列出归档失败: %w", err)
		}
		for _, o := range objects {
			fmt.Fprintf(out, "%s  %10s  %s\n", o.LastModified.Format(time.RFC3339), pipeline.FormatSize(o.Size), o.Key)
		}
		fmt.Fprintf(out, "\n共 %d 个对象, 总大小 %s\n", stats.TotalObjects, pipeline.FormatSize(stats.TotalSize))
		return nil
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "对象前缀（默认 archives/）")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除归档")
	minioCmd.Flags().DurationVar(&minioOlderThan, "older-than", 7*24*time.Hour, "只删除早于该时长的归档")
	rootCmd.AddCommand(minioCmd)
}
