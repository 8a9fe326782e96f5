package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"

	core "github.com/plantd-org/rdmnetcore"
	"github.com/plantd-org/rdmnetcore/config"
	"github.com/plantd-org/rdmnetcore/log"
	"github.com/plantd-org/rdmnetcore/rdmnet"

	logrus "github.com/sirupsen/logrus"
)

// getenv retrieves an environment variable with a fallback value.
func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	processArgs()

	logCfg := config.LogConfig{
		Formatter: getenv("RDMNET_LOG_FORMAT", "text"),
		Level:     getenv("RDMNET_LOG_LEVEL", "info"),
		Loki: config.LokiConfig{
			Address: os.Getenv("RDMNET_LOKI_ADDRESS"),
			Labels:  map[string]string{"app": "rdmnetclient"},
		},
	}
	log.Initialize(logCfg)

	brokerAddr := getenv("RDMNET_BROKER_ADDRESS", "127.0.0.1:8888")
	scope := getenv("RDMNET_SCOPE", "default")

	cfg := rdmnet.DefaultConfig()
	cfg.LogLevel = logCfg.Level

	eng, err := rdmnet.NewCore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("rdmnetclient: failed to construct core")
	}

	h, err := eng.Create(&clientCallbacks{})
	if err != nil {
		logrus.WithError(err).Fatal("rdmnetclient: failed to create connection handle")
	}

	addr, err := net.ResolveTCPAddr("tcp", brokerAddr)
	if err != nil {
		logrus.WithError(err).WithField("addr", brokerAddr).Fatal("rdmnetclient: invalid broker address")
	}
	if err := eng.Connect(h, addr, rdmnet.ClientConnectData{Scope: scope}); err != nil {
		logrus.WithError(err).Fatal("rdmnetclient: connect request failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			logrus.WithError(err).Error("rdmnetclient: core run loop exited with error")
		}
	}()

	logrus.WithFields(logrus.Fields{"broker": brokerAddr, "scope": scope}).Debug("rdmnetclient: started")

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)
	<-termChan

	logrus.Debug("rdmnetclient: terminated")

	cancel()
	wg.Wait()

	logrus.Debug("rdmnetclient: exiting")
}

func processArgs() {
	if len(os.Args) > 1 {
		r := regexp.MustCompile("^-V$|(-{2})?version$")
		if r.Match([]byte(os.Args[1])) {
			fmt.Println(core.VERSION)
		}
		os.Exit(0)
	}
}

// clientCallbacks logs every lifecycle event at the level it deserves:
// connects and disconnects (whatever the reason) at Info, connect
// failures at Warn, inbound messages at Debug.
type clientCallbacks struct {
	rdmnet.SafeCallbacks
}

func (clientCallbacks) OnConnected(h rdmnet.Handle, ev rdmnet.ConnectedEvent) {
	logrus.WithFields(logrus.Fields{
		"handle": h, "addr": ev.ConnectedAddr, "broker_uid": ev.BrokerUID, "client_uid": ev.ClientUID,
	}).Info("rdmnetclient: connected")
}

func (clientCallbacks) OnConnectFailed(h rdmnet.Handle, ev rdmnet.ConnectFailedEvent) {
	logrus.WithFields(logrus.Fields{
		"handle": h, "tcp_level": ev.TCPLevel, "rejected": ev.Rejected, "reason": ev.RDMnetReason,
	}).WithError(ev.SocketErr).Warn("rdmnetclient: connect failed")
}

func (clientCallbacks) OnDisconnected(h rdmnet.Handle, ev rdmnet.DisconnectedEvent) {
	logrus.WithFields(logrus.Fields{
		"handle": h, "reason": ev.Reason, "rdmnet_reason": ev.RDMnetReason,
	}).WithError(ev.SocketErr).Info("rdmnetclient: disconnected")
}

func (clientCallbacks) OnMessageReceived(h rdmnet.Handle, pdu rdmnet.PDU) {
	logrus.WithFields(logrus.Fields{
		"handle": h, "broker_vector": pdu.BrokerVector, "bytes": len(pdu.Data),
	}).Debug("rdmnetclient: message received")
}
