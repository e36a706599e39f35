package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"library-backend/internal/platform/config"
)

// ビルド時に -ldflags "-X main.version=..." で埋め込む
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "library-backend",
		Short:         "図書館の蔵書・利用者・貸出を管理する API サーバ",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "設定ファイルのパス")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		if cfg.Version == "" {
			cfg.Version = version
		}
		return cfg, nil
	}

	serve := newServeCmd(load)
	root.AddCommand(serve, newMigrateCmd(load), newUserCmd(load))
	// サブコマンド無しなら serve
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
