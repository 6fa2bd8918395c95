package cmd

import (
	"context"
	"fmt"
	"time"

	"VKSaver/cache"
	"VKSaver/config"
	"VKSaver/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接，进行基本读写，并验证取消标记的设置与清除。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer client.Close()
		fmt.Fprintln(out, "Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.TestRedis(ctx, client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Fprintln(out, "Redis基本操作测试成功！")

		flags := cache.NewRedisCancelRegistry(client)
		const probeID = "selftest"
		if err := flags.Set(ctx, probeID); err != nil {
			return fmt.Errorf("设置取消标记失败: %w", err)
		}
		set, err := flags.IsSet(ctx, probeID)
		if err != nil || !set {
			return fmt.Errorf("读取取消标记失败: set=%v err=%v", set, err)
		}
		if err := flags.Clear(ctx, probeID); err != nil {
			return fmt.Errorf("清除取消标记失败: %w", err)
		}
		fmt.Fprintln(out, "取消标记读写测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
