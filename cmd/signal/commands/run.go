package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/rendezvous/src/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts the relay
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the relay",
		PreRunE: loadConfig,
		RunE:    runServer,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

// runServer starts the relay and waits for a SIGINT or SIGTERM
func runServer(cmd *cobra.Command, args []string) error {
	s, err := server.NewServer(_config)
	if err != nil {
		_config.Logger().WithError(err).Error("Cannot initialize relay")
		return err
	}

	if err := s.Listen(); err != nil {
		_config.Logger().WithError(err).Error("Cannot listen")
		s.Shutdown()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve()
	}()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err = <-errCh:
	}

	s.Shutdown()

	return err
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Directory containing signal.toml")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file")

	// HTTP
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port")
	cmd.Flags().String("cert", _config.CertFile, "TLS certificate file")
	cmd.Flags().String("key", _config.KeyFile, "TLS key file")
	cmd.Flags().String("address", _config.Address, "Sender address of relay messages")
	cmd.Flags().StringSlice("allowed-origins", _config.AllowedOrigins, "Origins accepted on websocket endpoints")

	// Websockets
	cmd.Flags().Duration("websocket-ping-interval", _config.PingInterval, "Time between pings")
	cmd.Flags().Duration("websocket-pong-timeout", _config.PongTimeout, "Time without pong before disconnecting")
	cmd.Flags().Duration("websocket-write-timeout", _config.WriteTimeout, "Write timeout")
	cmd.Flags().Int64("websocket-read-limit", _config.ReadLimit, "Max size of inbound messages")
	cmd.Flags().Int("queue-size", _config.QueueSize, "Outbound messages buffered per connection")

	// Bus
	cmd.Flags().String("bus", _config.Bus, "inmem, redis or wamp")
	cmd.Flags().String("redis-host", _config.RedisHost, "Redis host")
	cmd.Flags().Int("redis-port", _config.RedisPort, "Redis port")
	cmd.Flags().Int("redis-db", _config.RedisDB, "Redis database")
	cmd.Flags().String("wamp-url", _config.WampURL, "URL of a remote WAMP router (empty to run one in-process)")
	cmd.Flags().String("wamp-realm", _config.WampRealm, "WAMP realm")
	cmd.Flags().String("wamp-listen", _config.WampListen, "Expose the in-process WAMP router on IP:Port")
	cmd.Flags().String("wamp-ca-file", _config.WampCAFile, "CA certificate of the remote WAMP router")
	cmd.Flags().Bool("wamp-skip-verify", _config.WampSkipVerify, "Skip verification of the WAMP router's certificate")
	cmd.Flags().Duration("wamp-timeout", _config.WampTimeout, "WAMP call timeout")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":        _config.DataDir,
		"LogLevel":       _config.LogLevel,
		"LogFile":        _config.LogFile,
		"BindAddr":       _config.BindAddr,
		"TLS":            _config.TLS(),
		"Address":        _config.Address,
		"AllowedOrigins": _config.AllowedOrigins,
		"PingInterval":   _config.PingInterval,
		"QueueSize":      _config.QueueSize,
		"Bus":            _config.Bus,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
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

	// look for config file in [datadir]/signal.toml (.json, .yaml also work)
	viper.SetConfigName("signal")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in. The logger is only created
	// once the file has been read, since it may set the log level and file.
	configFile := ""
	if err := viper.ReadInConfig(); err == nil {
		configFile = viper.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	// second unmarshal to read from config file
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	if configFile != "" {
		_config.Logger().Debugf("Using config file: %s", configFile)
	} else {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	}

	return nil
}
