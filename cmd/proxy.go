package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"VKSaver/config"
	"VKSaver/core/probe"
	"VKSaver/core/xray"

	"github.com/spf13/cobra"
)

var (
	renderPort   int
	checkTimeout time.Duration
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "代理与 VLESS 隧道工具",
}

var proxyRenderCmd = &cobra.Command{
	Use:   "render <vless-uri>",
	Short: "输出 VLESS 链接对应的 xray 配置",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := xray.RenderURI(args[0], renderPort)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

var proxyCheckCmd = &cobra.Command{
	Use:   "check <endpoint|vless-uri>",
	Short: "检测代理连通性，VLESS 链接会先启动临时隧道",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		initLogger(cfg)

		ctx := context.Background()
		endpoint := args[0]

		if strings.HasPrefix(endpoint, "vless://") {
			sup := xray.NewSupervisor(xray.Options{
				Binary:      cfg.Xray.Binary,
				ConfigDir:   cfg.Xray.ConfigDir,
				SettleDelay: cfg.Xray.SettleDelay,
				StopGrace:   cfg.Xray.StopGrace,
			})
			defer sup.Shutdown()

			port, err := sup.Start(ctx, "cli_check", endpoint)
			if err != nil {
				return fmt.Errorf("xray error: %w", err)
			}
			endpoint = fmt.Sprintf("socks5://127.0.0.1:%d", port)
			fmt.Fprintf(cmd.OutOrStdout(), "xray listening on %s\n", endpoint)
		}

		prober := probe.NewProber()
		defer prober.Close()
		if cfg.GeoIPPath != "" {
			if err := prober.WithGeoIP(cfg.GeoIPPath); err != nil {
				fmt.Fprintf(os.Stderr, "geoip disabled: %v\n", err)
			}
		}

		res := prober.Probe(ctx, endpoint, checkTimeout)
		fmt.Fprintln(cmd.OutOrStdout(), res.StatusMessage())
		if !res.Success {
			return fmt.Errorf("check failed: %s", res.Reason)
		}
		return nil
	},
}

func init() {
	proxyRenderCmd.Flags().IntVar(&renderPort, "port", 10808, "local SOCKS port")
	proxyCheckCmd.Flags().DurationVar(&checkTimeout, "timeout", probe.DefaultTimeout, "probe timeout")
	proxyCmd.AddCommand(proxyRenderCmd, proxyCheckCmd)
	rootCmd.AddCommand(proxyCmd)
}
