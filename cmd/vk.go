package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"VKSaver/config"
	"VKSaver/core/pipeline"
	"VKSaver/core/vk"
	"VKSaver/model"

	"github.com/spf13/cobra"
)

var (
	vkToken string
	vkProxy string
)

// staticProxy 固定的代理地址
type staticProxy string

func (p staticProxy) ActiveProxyURL(context.Context) string { return string(p) }

var vkCmd = &cobra.Command{
	Use:   "vk",
	Short: "VK 接口调试工具",
}

var vkTracksCmd = &cobra.Command{
	Use:   "tracks <playlist-url|track-url|my>",
	Short: "列出歌单、单曲或自己音乐库中的曲目",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if vkToken == "" {
			return errors.New("--token is required")
		}
		cfg := config.Load()
		initLogger(cfg)

		client := vk.NewClient(cfg.VKAPIURL, cfg.VKAPIVersion, cfg.VKRateInterval, staticProxy(vkProxy))
		ctx := context.Background()

		tracks, err := resolveTracks(ctx, client, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, t := range tracks {
			avail := "ok"
			if t.URL == "" {
				avail = "no url"
			}
			fmt.Fprintf(out, "%s  [%s] %ds\n", pipeline.SafeTrackName(i, t), avail, t.Duration)
		}
		fmt.Fprintf(out, "%d tracks\n", len(tracks))
		return nil
	},
}

func resolveTracks(ctx context.Context, client *vk.Client, target string) ([]model.Track, error) {
	if target == "my" {
		return client.GetTracks(ctx, vkToken, vk.TrackQuery{})
	}
	if ref, ok := vk.ParsePlaylistURL(target); ok {
		if title, err := client.GetPlaylistTitle(ctx, vkToken, ref); err == nil && title != "" {
			fmt.Println("Playlist:", title)
		}
		return client.GetTracks(ctx, vkToken, vk.TrackQuery{
			OwnerID:   strconv.FormatInt(ref.OwnerID, 10),
			AlbumID:   strconv.FormatInt(ref.PlaylistID, 10),
			AccessKey: ref.AccessKey,
		})
	}
	if ref, ok := vk.ParseTrackURL(target); ok {
		return client.GetByIDs(ctx, vkToken, ref.FullID())
	}
	return nil, fmt.Errorf("not a VK playlist or track URL: %s", target)
}

func init() {
	vkTracksCmd.Flags().StringVar(&vkToken, "token", "", "VK access token")
	vkTracksCmd.Flags().StringVar(&vkProxy, "proxy", "", "proxy URL (http:// or socks5://)")
	vkCmd.AddCommand(vkTracksCmd)
	rootCmd.AddCommand(vkCmd)
}
