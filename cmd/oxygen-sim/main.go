// Command oxygen-sim runs a simulated Oxygen device for development.
//
// The simulator answers identity, version, channel, value, event-log and
// data-stream commands on a local TCP port, optionally announcing itself
// over mDNS so oxygen-cli -discover can find it. Values follow a slow
// sine sweep so polling clients see changing data.
//
// Usage:
//
//	oxygen-sim [flags]
//
// Flags:
//
//	-addr string     Listen address (default "127.0.0.1:10001")
//	-version string  Announced protocol version (default "1.20")
//	-identity string Announced *IDN? reply
//	-announce        Announce the service over mDNS
package main

import (
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oxygen-daq/oxygen-go/internal/fakedevice"
	"github.com/oxygen-daq/oxygen-go/pkg/discovery"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:10001", "Listen address")
		version  = flag.String("version", "1.20", "Announced protocol version")
		identity = flag.String("identity", "", "Announced *IDN? reply")
		announce = flag.Bool("announce", false, "Announce the service over mDNS")
	)
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	dev, err := fakedevice.Listen(fakedevice.Config{
		Addr:     *addr,
		Version:  *version,
		Identity: *identity,
	})
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer dev.Close()
	log.Printf("Simulated device on %s (protocol %s)", dev.Addr(), *version)

	if *announce {
		a := discovery.NewAnnouncer(discovery.Config{})
		defer a.Stop()
		txt := []string{"txtvers=1", "Manufacturer=OXYGEN-DAQ", "Model=SIM"}
		if err := a.Announce("Oxygen-Sim", dev.Port(), txt); err != nil {
			log.Printf("mDNS announce failed: %v", err)
		} else {
			log.Printf("Announced as %s.%s%s", "Oxygen-Sim", discovery.ServiceType, discovery.Domain)
		}
	}

	stop := make(chan struct{})
	go sweepValues(dev, stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	close(stop)
	log.Printf("Received signal: %v, shutting down", sig)
}

// sweepValues drives the served values along slow sine waves.
func sweepValues(dev *fakedevice.Device, stop <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		t := time.Since(start).Seconds()
		dev.SetValues(
			10*math.Sin(2*math.Pi*t/10),
			5*math.Sin(2*math.Pi*t/7+1),
			230+2*math.Sin(2*math.Pi*t/13),
		)
	}
}
