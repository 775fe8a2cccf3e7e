package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/chunkstore/common"
	"github.com/ruteri/chunkstore/config"
	"github.com/ruteri/chunkstore/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// Merged documents are streamed; large exports need time.
		WriteTimeout: 10 * time.Minute,
	}
}

// LoadConfig reads the optional config file and applies every store flag
// that was set on the command line on top of it.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	overrides := make(map[string]any)
	for _, f := range storeFlagKeys {
		if !cCtx.IsSet(f.name) {
			continue
		}
		switch f.kind {
		case "bool":
			overrides[f.key] = cCtx.Bool(f.name)
		case "list":
			overrides[f.key] = cCtx.StringSlice(f.name)
		default:
			overrides[f.key] = cCtx.String(f.name)
		}
	}
	return config.Load(cCtx.String(ConfigFileFlag.Name), overrides)
}

var storeFlagKeys = []struct {
	name, key, kind string
}{
	{"storage-backend", config.KeyStorageBackend, "string"},
	{"storage-target", config.KeyStorageTarget, "string"},
	{"storage-compress", config.KeyStorageCompress, "bool"},
	{"vault-token", config.KeyStorageVaultToken, "string"},
	{"vault-mount", config.KeyStorageVaultMount, "string"},
	{"mirror-target", config.KeyStorageMirrorTarget, "list"},
	{"index-path", config.KeyIndexPath, "string"},
	{"index-compress", config.KeyIndexCompress, "bool"},
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "YAML file with store configuration; flags override its values",
	EnvVars: []string{"CHUNKSTORE_CONFIG"},
}

var StoreFlags = []cli.Flag{
	ConfigFileFlag,
	&cli.StringFlag{
		Name:  "storage-backend",
		Usage: "chunk backend: file, badger, blob, ipfs, vault or mirror",
	},
	&cli.StringFlag{
		Name:  "storage-target",
		Usage: "directory, database path or connection string of the backend",
	},
	&cli.BoolFlag{
		Name:  "storage-compress",
		Usage: "compress chunks in the badger backend",
	},
	&cli.StringFlag{
		Name:    "vault-token",
		Usage:   "token for the vault backend",
		EnvVars: []string{"VAULT_TOKEN"},
	},
	&cli.StringFlag{
		Name:  "vault-mount",
		Usage: "KV v2 mount of the vault backend",
	},
	&cli.StringSliceFlag{
		Name:  "mirror-target",
		Usage: "kind=target backend written by the mirror backend, repeatable",
	},
	&cli.StringFlag{
		Name:  "index-path",
		Usage: "directory of the metadata index; in-memory if empty",
	},
	&cli.BoolFlag{
		Name:  "index-compress",
		Usage: "compress the metadata index",
	},
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "chunk store server to connect to",
	EnvVars: []string{"CHUNKSTORE_SERVER"},
}

var LayerFlag = &cli.StringFlag{
	Name:  "layer",
	Value: "/",
	Usage: "layer to operate on",
}

var SearchFlag = &cli.StringFlag{
	Name:  "search",
	Usage: "query selecting chunks by tag or key=value property",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var CommonFlags = append([]cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}, LogFlags...)
