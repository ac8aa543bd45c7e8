// Package main runs a demo WebSocket client for solve run events.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"fleetroute/internal/integrations/yamlfile"
	"fleetroute/internal/model"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	problemPath := flag.String("problem", "examples/technicians.yaml", "problem file to submit")
	flag.Parse()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	p, err := yamlfile.Source{Path: *problemPath}.Load(context.Background())
	if err != nil {
		logrus.Fatal(err)
	}
	body, err := json.Marshal(model.SolveRequest{TenantID: "t_demo", Problem: p, Async: true})
	if err != nil {
		logrus.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/solve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logrus.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		logrus.Fatalf("solve: unexpected status %d", resp.StatusCode)
	}
	var run model.SolveRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("run", run.ID).Info("queued")

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/solves/" + run.ID + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		logrus.Fatal("dial: ", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				logrus.WithError(err).Info("read")
				return
			}
			logrus.Infof("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "complete" {
				return
			}
		}
	}()

	select {
	case <-time.After(30 * time.Second):
		_ = c.WriteJSON(wsMessage{Type: "complete", ID: run.ID})
	case <-done:
	}
}
