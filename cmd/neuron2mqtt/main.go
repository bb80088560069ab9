package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := configLoader.Load(); err != nil {
		logrus.Fatal(err)
	}
	loadConfigFromYamlFile(*configPath)
	if err := Cfg.validate(); err != nil {
		logrus.Fatal(err)
	}

	level, err := logrus.ParseLevel(Cfg.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())

	registry, err := gatewaysFromConfig()
	if err != nil {
		logrus.Fatal(err)
	}

	var e *entities
	cfg := pahoOptsFromConfig()
	cfg.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")
		e.announce(ctx, m)
	}
	cfg.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(cfg)
	e, err = entitiesFromConfig(m, registry)
	if err != nil {
		logrus.Fatal(err)
	}

	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	gatewaysDone := make(chan struct{})
	go func() {
		registry.Run(ctx)
		close(gatewaysDone)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		oscall := <-c
		logrus.Infof("system call: %+v", oscall)
		cancel()
	}()

	<-ctx.Done()

	cleanupTime := time.Second
	logrus.Infof("cleanups for %s...", cleanupTime.String())
	select {
	case <-gatewaysDone:
	case <-time.After(cleanupTime):
		logrus.Warn("gateways did not stop in time")
	}
	m.Disconnect(uint(cleanupTime.Milliseconds()))
}
