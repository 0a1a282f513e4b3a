package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mosaicnetworks/dsm/src/config"
	"github.com/mosaicnetworks/dsm/src/net"
	"github.com/mosaicnetworks/dsm/src/node"
	"github.com/mosaicnetworks/dsm/src/peers"
	"github.com/mosaicnetworks/dsm/src/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"
)

//NewRunCmd returns the command that starts a DSM node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runDSM,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runDSM(cmd *cobra.Command, args []string) error {
	conf := &_config.DSM
	logger := conf.Logger()

	cluster, err := loadCluster()
	if err != nil {
		logger.Error("Cannot load cluster:", err)
		return err
	}

	trans := net.NewTCPTransport(conf.TCPTimeout, conf.ConnectRetries, logger)

	n := node.NewNode(conf, cluster, trans, node.NewInmemGuest(conf.GuestPages))

	if err := n.Init(); err != nil {
		logger.Error("Cannot initialize node:", err)
		return err
	}

	atexit.Register(n.Shutdown)

	if !conf.NoService {
		srv := service.NewService(conf.ServiceAddr, n, logger)
		go srv.Serve()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.Run(ctx)

	// runs the shutdown hooks and exits
	atexit.Exit(0)

	return nil
}

// loadCluster returns the cluster given on the command line, or the one
// listed in the data directory.
func loadCluster() (*peers.Cluster, error) {
	conf := &_config.DSM

	if len(conf.Cluster) > 0 {
		return peers.NewCluster(conf.Cluster, conf.BasePort), nil
	}

	cluster, err := peers.NewClusterFromStore(peers.NewJSONCluster(conf.DataDir), conf.BasePort)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", conf.ClusterFile(), err)
	}
	return cluster, nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DSM.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.DSM.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.DSM.LogFile, "Also write logs to this file")
	cmd.Flags().String("env-file", _config.EnvFile, "Dotenv file loaded before reading the configuration")

	// Cluster
	cmd.Flags().Int("id", _config.DSM.NodeID, "Id of this node in the cluster")
	cmd.Flags().StringSlice("cluster", _config.DSM.Cluster, "Hosts of the cluster, indexed by node id")
	cmd.Flags().Int("base-port", _config.DSM.BasePort, "Port of node 0, node i listens on base-port+i")

	// Network
	cmd.Flags().DurationP("timeout", "t", _config.DSM.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("connect-retries", _config.DSM.ConnectRetries, "Connection attempts before giving up on a peer")

	// Memory
	cmd.Flags().Int("max-slots", _config.DSM.MaxSlots, "Capacity of the slot table")
	cmd.Flags().Int("max-pages", _config.DSM.MaxPages, "Maximum number of tracked pages, 0 for no limit")
	cmd.Flags().Int("guest-pages", _config.DSM.GuestPages, "Number of guest pages")
	cmd.Flags().Duration("deadlock-timeout", _config.DSM.DeadlockTimeout, "Wait on a page lock before reporting a deadlock")

	// Transfers
	cmd.Flags().Bool("diff", _config.DSM.EnableDiff, "Delta encode page transfers")
	cmd.Flags().Int("twin-threshold", _config.DSM.TwinThreshold, "Faults a page needs before it is twinned, 0 twins every page")
	cmd.Flags().Bool("profile", _config.DSM.EnableProfile, "Profile page faults")

	// Service
	cmd.Flags().Bool("no-service", _config.DSM.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.DSM.ServiceAddr, "Listen IP:Port for HTTP service")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.DSM.Logger().WithFields(logrus.Fields{
		"dsm.DataDir":         _config.DSM.DataDir,
		"dsm.LogLevel":        _config.DSM.LogLevel,
		"dsm.LogFile":         _config.DSM.LogFile,
		"dsm.NodeID":          _config.DSM.NodeID,
		"dsm.Cluster":         _config.DSM.Cluster,
		"dsm.BasePort":        _config.DSM.BasePort,
		"dsm.TCPTimeout":      _config.DSM.TCPTimeout,
		"dsm.ConnectRetries":  _config.DSM.ConnectRetries,
		"dsm.MaxSlots":        _config.DSM.MaxSlots,
		"dsm.MaxPages":        _config.DSM.MaxPages,
		"dsm.GuestPages":      _config.DSM.GuestPages,
		"dsm.DeadlockTimeout": _config.DSM.DeadlockTimeout,
		"dsm.EnableDiff":      _config.DSM.EnableDiff,
		"dsm.TwinThreshold":   _config.DSM.TwinThreshold,
		"dsm.EnableProfile":   _config.DSM.EnableProfile,
		"dsm.NoService":       _config.DSM.NoService,
		"dsm.ServiceAddr":     _config.DSM.ServiceAddr,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper. The logger is only built
// once the configuration is final, so log settings from the config file or
// the environment apply.
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// DSM_ID, DSM_BASE_PORT, ... override the config file
	envFile, err := loadEnvFile()
	if err != nil {
		return err
	}
	viper.SetEnvPrefix("dsm")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// look for config file in [datadir]/dsm.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigName) // name of config file (without extension)
	viper.AddConfigPath(_config.DSM.DataDir)      // search root directory

	// If a config file is found, read it in.
	configMsg := ""
	if err := viper.ReadInConfig(); err == nil {
		configMsg = fmt.Sprintf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		configMsg = fmt.Sprintf("No config file found in: %s", _config.DSM.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file and environment
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	logger := _config.DSM.Logger()
	if envFile != "" {
		logger.Debugf("Loaded environment from: %s", envFile)
	}
	logger.Debug(configMsg)

	return nil
}

// loadEnvFile loads the dotenv file, if there is one, and returns its path.
// Variables already set in the environment are kept.
func loadEnvFile() (string, error) {
	path := _config.EnvFile
	if path == "" {
		return "", nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(_config.DSM.DataDir, path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("loading %s: %w", path, err)
	}

	return path, nil
}
