package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/dsm/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultClusterFile is the default name of the file listing the hosts of
	// the cluster.
	DefaultClusterFile = "cluster.json"

	// DefaultConfigName is the name, without extension, of the configuration
	// file looked up in the data directory.
	DefaultConfigName = "dsm"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultNodeID          = 0
	DefaultBasePort        = 37710
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultTCPTimeout      = 1000 * time.Millisecond
	DefaultConnectRetries  = 5
	DefaultMaxSlots        = 512
	DefaultMaxPages        = 0
	DefaultGuestPages      = 1024
	DefaultEnableDiff      = true
	DefaultTwinThreshold   = 20
	DefaultEnableProfile   = true
	DefaultDeadlockTimeout = 10 * time.Second
	DefaultNoService       = false
)

// Config contains all the configuration properties of a DSM node.
type Config struct {
	// DataDir is the top-level directory containing configuration files.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry through an
	// lfshook file hook.
	LogFile string `mapstructure:"log-file"`

	// NodeID is the identifier of this node within the cluster. It selects
	// the host in Cluster and the listening port (BasePort + NodeID).
	NodeID int `mapstructure:"id"`

	// Cluster is the list of hosts, indexed by node id. If it is empty, the
	// list is loaded from cluster.json in the data directory.
	Cluster []string `mapstructure:"cluster"`

	// BasePort is added to a node id to obtain its listening port.
	BasePort int `mapstructure:"base-port"`

	// TCPTimeout bounds connection establishment.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// ConnectRetries is the number of attempts made on transient connection
	// failures before giving up.
	ConnectRetries int `mapstructure:"connect-retries"`

	// MaxSlots is the hard capacity of the slot table.
	MaxSlots int `mapstructure:"max-slots"`

	// MaxPages caps the total number of pages tracked across all slots. Zero
	// means unbounded.
	MaxPages int `mapstructure:"max-pages"`

	// GuestPages is the size, in pages, of the in-memory guest backing used
	// when the node runs standalone.
	GuestPages int `mapstructure:"guest-pages"`

	// EnableDiff turns on twin based delta compression of page transfers.
	EnableDiff bool `mapstructure:"diff"`

	// TwinThreshold is the number of faults a page must exceed before a twin
	// is kept for it. Zero keeps twins for every page.
	TwinThreshold int `mapstructure:"twin-threshold"`

	// EnableProfile turns on page fault profiling.
	EnableProfile bool `mapstructure:"profile"`

	// DeadlockTimeout is the cumulative wait after which a page lock
	// acquisition logs a deadlock diagnostic.
	DeadlockTimeout time.Duration `mapstructure:"deadlock-timeout"`

	// NoService disables the HTTP service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		NodeID:          DefaultNodeID,
		BasePort:        DefaultBasePort,
		TCPTimeout:      DefaultTCPTimeout,
		ConnectRetries:  DefaultConnectRetries,
		MaxSlots:        DefaultMaxSlots,
		MaxPages:        DefaultMaxPages,
		GuestPages:      DefaultGuestPages,
		EnableDiff:      DefaultEnableDiff,
		TwinThreshold:   DefaultTwinThreshold,
		EnableProfile:   DefaultEnableProfile,
		DeadlockTimeout: DefaultDeadlockTimeout,
		NoService:       DefaultNoService,
		ServiceAddr:     DefaultServiceAddr,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// ClusterFile returns the full path of the file listing the cluster hosts.
func (c *Config) ClusterFile() string {
	return filepath.Join(c.DataDir, DefaultClusterFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "dsm" and the
// node id attached.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: c.LogFile,
					logrus.InfoLevel:  c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
				},
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithFields(logrus.Fields{
		"prefix": "dsm",
		"node":   c.NodeID,
	})
}

// DefaultDataDir return the default directory name for top-level DSM config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".DSM")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "DSM")
		} else {
			return filepath.Join(home, ".dsm")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
