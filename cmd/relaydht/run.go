package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	relaydht "github.com/dep2p/go-relaydht"
	"github.com/dep2p/go-relaydht/config"
)

// runFlags run 命令参数
//
// 命令行参数覆盖配置文件中的同名字段。
type runFlags struct {
	configFile  string
	listen      string
	bootstrap   []string
	relayServer bool
	firewalled  bool
	relays      int
	metricsAddr string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "启动节点",
		Example: `  relaydht run --listen 0.0.0.0:4001 --relay-server
  relaydht run --listen 0.0.0.0:4002 --bootstrap 10.0.0.1:4001 --firewalled`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return fmt.Errorf("配置错误: %w", err)
			}
			return runNode(cmd.Context(), cmd, cfg, f.metricsAddr)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "配置文件路径（.json 或 .toml）")
	fl.StringVar(&f.listen, "listen", "", "监听地址 host:port")
	fl.StringSliceVar(&f.bootstrap, "bootstrap", nil, "引导端点，可重复")
	fl.BoolVar(&f.relayServer, "relay-server", false, "为防火墙后的节点提供中继")
	fl.BoolVar(&f.firewalled, "firewalled", false, "声明节点位于防火墙后，启动时建立中继")
	fl.IntVar(&f.relays, "relays", 0, "目标中继数（0 使用配置）")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus 指标监听地址（为空不启用）")
	return cmd
}

// load 加载配置文件并应用命令行覆盖
func (f *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if f.configFile != "" {
		loaded, err := config.LoadFile(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fl := cmd.Flags()
	if fl.Changed("listen") {
		cfg.Transport.ListenAddr = f.listen
	}
	if fl.Changed("bootstrap") {
		cfg.Bootstrap.Peers = f.bootstrap
	}
	if fl.Changed("relay-server") {
		cfg.Relay.EnableServer = f.relayServer
	}
	if fl.Changed("firewalled") {
		cfg.NAT.FirewalledTCP = f.firewalled
		cfg.NAT.FirewalledUDP = f.firewalled
	}
	if fl.Changed("relays") && f.relays > 0 {
		cfg.Relay.Relays = f.relays
	}
	return cfg, cfg.Validate()
}

func runNode(ctx context.Context, cmd *cobra.Command, cfg *config.Config, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📦 %s\n", relaydht.VersionInfo())

	reg := prometheus.NewRegistry()
	node, err := relaydht.New(cfg, relaydht.WithRegisterer(reg))
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	fmt.Fprintf(out, "节点 ID:  %s\n", node.ID())
	fmt.Fprintf(out, "监听地址: %s\n", node.Endpoint())

	switch {
	case cfg.NAT.Firewalled():
		f := node.StartRelay(ctx)
		if err := f.Wait(ctx); err != nil {
			f.Cancel()
			return err
		}
		routes, err := f.Result()
		if err != nil {
			return fmt.Errorf("建立中继失败: %w", err)
		}
		for _, r := range routes {
			fmt.Fprintf(out, "中继:     %s\n", r)
		}
	case len(cfg.Bootstrap.Peers) > 0:
		if err := node.Bootstrap(ctx); err != nil {
			log.Warn("引导失败", "err", err)
		}
	}
	fmt.Fprintf(out, "身份:     %s\n", node.Identity())

	fmt.Fprintln(out, "节点已启动，按 Ctrl+C 退出")
	<-ctx.Done()
	fmt.Fprintln(out, "\n正在关闭节点...")
	return nil
}

// serveMetrics 在 addr 上暴露 /metrics
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("指标服务退出", "addr", addr, "err", err)
		}
	}()
	log.Info("指标服务已启动", "addr", addr)
	return srv
}
