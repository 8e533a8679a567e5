// Command logos-dap-broker is a thin demo binary wiring the Service facade
// to a single adapter over stdio, for manual smoke testing outside of any
// editor front-end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/zixiao-technologies/logos-sub002/adaptermanager"
	"github.com/zixiao-technologies/logos-sub002/breakpoint"
	"github.com/zixiao-technologies/logos-sub002/broker"
	"github.com/zixiao-technologies/logos-sub002/session"
)

func main() {
	adapterType := flag.String("type", "node", "adapter type to launch (see adaptermanager descriptors)")
	workspace := flag.String("workspace", ".", "workspace folder")
	program := flag.String("program", "", "program field forwarded to the launch configuration")
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	mgr := adaptermanager.New(log)
	reg := breakpoint.New(log)

	events := broker.Events{
		SessionStateChanged: func(id string, state session.State) {
			log.WithFields(logrus.Fields{"session": id, "state": state.String()}).Info("session state changed")
		},
		Stopped: func(id, reason string, threadID int, allThreadsStopped bool) {
			log.WithFields(logrus.Fields{"session": id, "reason": reason, "thread": threadID}).Info("stopped")
		},
		Output: func(id, category, text string) {
			log.WithFields(logrus.Fields{"session": id, "category": category}).Info(text)
		},
		SessionTerminated: func(id string) {
			log.WithField("session", id).Info("session terminated")
		},
	}

	facade := broker.New(mgr, reg, events, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, _ := json.Marshal(map[string]string{
		"program": *program,
		"cwd":     *workspace,
	})

	if _, env := facade.StartSession(ctx, *adapterType, "cli launch", *workspace, "launch", cfg); !env.Success {
		log.WithField("error", env.Error).Fatal("failed to start session")
	}

	<-ctx.Done()
	facade.Cleanup(context.Background())
}
