package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/banshee-data/savelaz/internal/fsutil"
	"github.com/banshee-data/savelaz/internal/laz"
	"github.com/banshee-data/savelaz/internal/ledger"
	"github.com/banshee-data/savelaz/internal/lidar/capture"
	"github.com/banshee-data/savelaz/internal/livox"
	"github.com/banshee-data/savelaz/internal/monitoring"
	"github.com/banshee-data/savelaz/internal/version"
)

// DefaultSDKConfig is read when LIVOX_SDK_CONFIG is unset.
const DefaultSDKConfig = "mid360_config.json"

var errUsage = errors.New("usage: save-laz [--check | --sn | --history N] | save-laz <output.laz>")

// deps are the seams the commands are built on.
type deps struct {
	newRuntime  func(replay string, realtime bool) livox.Runtime
	newCodec    laz.Factory
	fs          fsutil.FileSystem
	sessionOpts []capture.Option
}

func defaultDeps() deps {
	return deps{
		newRuntime: func(replay string, realtime bool) livox.Runtime {
			if replay != "" {
				return livox.NewReplay(replay, livox.WithRealtime(realtime))
			}
			return livox.NewSDK()
		},
		newCodec: laz.New,
		fs:       fsutil.OSFileSystem{},
	}
}

func newRootCmd(d deps) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "save-laz [--check | --sn | --history N] | save-laz <output.laz>",
		Short:         "Capture one Livox Mid-360 frame to a LAZ point cloud",
		Args:          cobra.MaximumNArgs(1),
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if v.GetBool("quiet") {
				original := monitoring.Logf
				monitoring.SetLogger(nil)
				defer monitoring.SetLogger(original)
			}

			check := v.GetBool("check")
			sn := v.GetBool("sn")
			history := v.GetInt("history")
			switch {
			case check || sn:
				if len(args) > 0 || history > 0 {
					return errUsage
				}
				return runCheck(cmd, v, d, sn)
			case history > 0:
				if len(args) > 0 {
					return errUsage
				}
				return runHistory(cmd, v, history)
			case len(args) == 1:
				return runCapture(cmd, v, d, args[0])
			default:
				return errUsage
			}
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.Flags()
	flags.Bool("check", false, "exit 0 if a sensor is discovered, 1 otherwise")
	flags.Bool("sn", false, "print \"<index> <serial>\" for each discovered sensor")
	flags.String("replay", "", "read sensor traffic from a pcap file instead of the network")
	flags.Bool("replay-realtime", true, "pace replayed traffic by its capture timestamps")
	flags.Bool("compress", laz.Compressed, "write compressed LAZ (false writes uncompressed LAS 1.2)")
	flags.String("ledger", "", "SQLite database recording each capture")
	flags.Int("ledger-max", ledger.DefaultMaxEntries, "number of captures kept in the ledger")
	flags.Int("history", 0, "print the N most recent captures from the ledger")
	flags.Duration("timeout", capture.DefaultTimeout, "how long to wait for the first point frame")
	flags.Duration("poll-interval", capture.DefaultPollInterval, "how often to check for the first point frame")
	flags.Bool("quiet", false, "suppress diagnostic output")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "tool settings file")

	for key, flag := range map[string]string{
		"check":                 "check",
		"sn":                    "sn",
		"replay":                "replay",
		"replay_realtime":       "replay-realtime",
		"compress":              "compress",
		"ledger.path":           "ledger",
		"ledger.max_entries":    "ledger-max",
		"history":               "history",
		"capture.timeout":       "timeout",
		"capture.poll_interval": "poll-interval",
		"quiet":                 "quiet",
	} {
		// Lookup never fails for the flags registered above.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetDefault("sdk_config", DefaultSDKConfig)
	if err := v.BindEnv("sdk_config", "LIVOX_SDK_CONFIG"); err != nil {
		return err
	}
	v.SetEnvPrefix("SAVE_LAZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", cfgFile, err)
	}
	monitoring.Logf("Using config file %s", v.ConfigFileUsed())
	return nil
}

func newRuntime(v *viper.Viper, d deps) livox.Runtime {
	return d.newRuntime(v.GetString("replay"), v.GetBool("replay_realtime"))
}

func sessionOptions(v *viper.Viper, d deps) []capture.Option {
	opts := []capture.Option{
		capture.WithTimeout(durationOr(v.GetDuration("capture.timeout"), capture.DefaultTimeout)),
		capture.WithPollInterval(durationOr(v.GetDuration("capture.poll_interval"), capture.DefaultPollInterval)),
	}
	return append(opts, d.sessionOpts...)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func runCheck(cmd *cobra.Command, v *viper.Viper, d deps, printSerials bool) error {
	rt := newRuntime(v, d)
	sess := capture.NewSession(rt, sessionOptions(v, d)...)

	serials, err := sess.Discover(cmd.Context(), v.GetString("sdk_config"))
	if err != nil {
		return err
	}
	monitoring.Logf("Discovered %d device(s)", len(serials))
	if printSerials {
		out := cmd.OutOrStdout()
		for i, s := range serials {
			fmt.Fprintf(out, "%d %s\n", i, s.Serial)
		}
	}
	return nil
}

func runHistory(cmd *cobra.Command, v *viper.Viper, n int) (err error) {
	path := v.GetString("ledger.path")
	if path == "" {
		return fmt.Errorf("--history needs --ledger: %w", errUsage)
	}
	l, err := ledger.Open(path, v.GetInt("ledger.max_entries"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	entries, err := l.Recent(cmd.Context(), n)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(out, "%s %s %d %d\n", e.CreatedAt.UTC().Format(time.RFC3339), e.Filename, e.PointCount, e.FileSize)
	}
	return nil
}
