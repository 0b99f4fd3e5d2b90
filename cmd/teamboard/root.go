package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoCodeAlone/teamboard/client"
)

const defaultServer = "http://localhost:9090"

// settings resolves flags, TEAMBOARD_* environment variables and the
// optional ~/.teamboard.yaml, in that order of precedence.
type settings struct {
	v *viper.Viper
}

func (s settings) server() string { return strings.TrimRight(s.v.GetString("server"), "/") }
func (s settings) token() string { return s.v.GetString("token") }
func (s settings) project() string { return s.v.GetString("project") }
func (s settings) agentID() string { return s.v.GetString("agent-id") }
func (s settings) timeout() time.Duration { return s.v.GetDuration("timeout") }
func (s settings) jsonOutput() bool { return s.v.GetBool("json") }
func (s settings) logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
func (s settings) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout())
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cfg := settings{v: v}
	var configFile string

	root := &cobra.Command{
		Use:   "teamboard",
		Short: "Work a team board from the command line",
		Long: "teamboard creates, updates and watches tasks on a shared project board.\n" +
			"Settings come from flags, TEAMBOARD_* environment variables or ~/.teamboard.yaml.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadSettings(v, configFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ~/.teamboard.yaml)")
	pf.String("server", defaultServer, "teamboard server URL")
	pf.String("token", "", "bearer token")
	pf.StringP("project", "p", "", "project id")
	pf.String("agent-id", "", "agent id to attribute changes to")
	pf.Duration("timeout", 15*time.Second, "request timeout")
	pf.Bool("json", false, "print raw JSON events")
	_ = v.BindPFlags(pf)

	root.AddCommand(
		newCreateCmd(cfg),
		newUpdateCmd(cfg),
		newSyncCmd(cfg),
		newWatchCmd(cfg),
		newPingCmd(cfg),
		newRegisterCmd(cfg),
		newStatusCmd(cfg),
		newLoginCmd(cfg),
		newVersionCmd(),
	)
	return root
}

func loadSettings(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix("TEAMBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.SetConfigFile(filepath.Join(home, ".teamboard.yaml"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || (configFile == "" && errors.Is(err, os.ErrNotExist)) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// connect dials the configured project room.
func connect(ctx context.Context, cfg settings) (*client.Client, error) {
	if cfg.project() == "" {
		return nil, errors.New("no project: pass --project or set TEAMBOARD_PROJECT")
	}
	dialCtx, cancel := cfg.requestCtx(ctx)
	defer cancel()
	return client.Dial(dialCtx, cfg.server(), cfg.project(), cfg.token(), client.Options{Logger: cfg.logger()})
}
