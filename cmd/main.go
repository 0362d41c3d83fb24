package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/practice-sem-2/group-chat-service/internal/app"
	"github.com/practice-sem-2/group-chat-service/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func initLogger(level string) *logrus.Logger {

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint: true,
	})

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		logger.
			WithField("log_level", level).
			Warning("specified invalid log level")
	} else {
		logger.SetLevel(logLevel)
		logger.
			WithField("log_level", level).
			Infof("specified %s log level", logLevel.String())
	}

	return logger
}

func initListener(address string, logger *logrus.Logger) net.Listener {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf("can't listen to address: %s", err.Error())
	}
	logger.Infof("start listening on %s", address)
	return listener
}

func main() {
	var host string
	var port int
	var logLevel string
	var envFile string

	flag.IntVar(&port, "port", 80, "port on which server will be started")
	flag.StringVar(&host, "host", "0.0.0.0", "host on which server will be started")
	flag.StringVar(&logLevel, "log", "info", "log level")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded outside production")

	flag.Parse()

	logger := initLogger(logLevel)

	if err := config.LoadEnvFile(envFile); err != nil {
		logger.WithError(err).Warn("env file ignored")
	}
	viper.AutomaticEnv()
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatalf("can't load configuration: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("can't start application: %s", err.Error())
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.WithError(err).Error("during shutdown an error occurred")
		}
	}()

	application.StartReconciler(cfg.ReconcileInterval)

	address := fmt.Sprintf("%s:%d", host, port)
	lis := initListener(address, logger)
	srv := application.Server

	osSignal := make(chan os.Signal, 1)
	signal.Notify(osSignal,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func(ctx context.Context) {
		select {
		case sig := <-osSignal:
			srv.GracefulStop()
			logger.Infof("%s caught. Gracefully shutdown", sig.String())
		case <-ctx.Done():
			return
		}
	}(ctx)

	if err = srv.Serve(lis); err != nil {
		logger.Errorf("grpc serving error: %s", err.Error())
	}
}
