package main

import (
	"context"
	"fmt"
	"time"

	"github.com/oxygen-daq/oxygen-go/internal/fakedevice"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
)

func main() {
	dev, err := fakedevice.Listen(fakedevice.Config{})
	if err != nil {
		panic(err)
	}
	defer dev.Close()

	cfg := transport.DefaultConfig(dev.Host())
	cfg.Port = dev.Port()
	cfg.CommandDelay = time.Millisecond
	cfg.ReadTimeout = 500 * time.Millisecond

	conn := transport.New(cfg)
	ctx := context.Background()
	for _, cmd := range []string{":RATE 200ms", `:SETUP:LOAD "bench.dms"`, ":STOR:START", "*RST"} {
		err := conn.Send(ctx, cmd)
		fmt.Printf("send %-25q err=%v state=%v\n", cmd, err, conn.State())
	}
	fmt.Println("device saw:", dev.Commands())
}
