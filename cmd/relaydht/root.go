package main

import (
	"fmt"

	"github.com/spf13/cobra"

	relaydht "github.com/dep2p/go-relaydht"
	"github.com/dep2p/go-relaydht/internal/util/logger"
)

var log = logger.Logger("cmd")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relaydht",
		Short: "relaydht - 基于中继的 DHT 可达性节点",
		Long: `relaydht 运行一个 Kademlia 覆盖网络节点。

防火墙后的节点通过若干直连可达的中继建立回连，
其他节点经由中继向它发送直接消息。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), relaydht.VersionInfo())
		},
	}
}
