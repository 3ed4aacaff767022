package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tillsync/client"
	v1 "tillsync/pkg/api/v1"
	"tillsync/pkg/constraints"
	"tillsync/pkg/logger"
)

// Configuration
var (
	targetURL   = flag.String("url", "http://localhost:8080", "Coordinator base URL")
	terminalKey = flag.String("key", "", "Terminal key")
	totalVUs    = flag.Int("c", 200, "Foreground listeners (concurrency)")
	rampUp      = flag.Duration("ramp", 10*time.Second, "Ramp up duration")
	forceEvery  = flag.Duration("force", 2*time.Second, "Interval between FORCE_SYNC requests")
	flapEvery   = flag.Int("flap", 5, "Toggle connectivity every N force requests (0 disables)")
)

// Metrics
var (
	messagesRx   int64
	resets       int64
	latencySum   int64 // milliseconds
	latencyCount int64
	lastForce    atomic.Int64
)

func main() {
	flag.Parse()
	logger.InitLogger("prod")

	fmt.Printf("Starting load test\n")
	fmt.Printf("   Target: %s\n", *targetURL)
	fmt.Printf("   VUs: %d\n", *totalVUs)
	fmt.Printf("   Ramp: %v\n", *rampUp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go report(ctx)

	var listeners []*client.Listener
	interval := *rampUp / time.Duration(*totalVUs)
	for i := 0; i < *totalVUs && ctx.Err() == nil; i++ {
		l := client.NewListener(*targetURL, *terminalKey)
		l.OnMessage(onMessage)
		l.OnReset(func() { atomic.AddInt64(&resets, 1) })
		l.Start()
		listeners = append(listeners, l)
		time.Sleep(interval)
	}
	fmt.Println("All VUs launched, driving sync requests")

	drive(ctx, client.NewListener(*targetURL, *terminalKey))

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l *client.Listener) {
			defer wg.Done()
			l.Stop()
		}(l)
	}
	wg.Wait()
}

func onMessage(m v1.Message) {
	atomic.AddInt64(&messagesRx, 1)
	if m.Type != constraints.MsgSyncComplete {
		return
	}
	if sent := lastForce.Load(); sent > 0 {
		atomic.AddInt64(&latencySum, time.Since(time.UnixMilli(sent)).Milliseconds())
		atomic.AddInt64(&latencyCount, 1)
	}
}

// drive sends FORCE_SYNC on a fixed interval and now and then flips the
// coordinator offline for one round to exercise the reconnect drain.
func drive(ctx context.Context, ctl *client.Listener) {
	ticker := time.NewTicker(*forceEvery)
	defer ticker.Stop()

	online := true
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			if !online {
				_ = ctl.ReportConnectivity(context.Background(), true)
			}
			return
		case <-ticker.C:
		}

		if *flapEvery > 0 && n%*flapEvery == 0 {
			online = !online
			if err := ctl.ReportConnectivity(ctx, online); err != nil {
				fmt.Printf("connectivity report failed: %v\n", err)
			}
			continue
		}
		lastForce.Store(time.Now().UnixMilli())
		if err := ctl.RequestForceSync(ctx); err != nil {
			fmt.Printf("force sync failed: %v\n", err)
		}
	}
}

func report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs := atomic.SwapInt64(&messagesRx, 0)
			latSum := atomic.SwapInt64(&latencySum, 0)
			latCnt := atomic.SwapInt64(&latencyCount, 0)

			avgLat := float64(0)
			if latCnt > 0 {
				avgLat = float64(latSum) / float64(latCnt)
			}
			fmt.Printf("[%s] Msgs/s: %d | Resets: %d | Avg SYNC_COMPLETE latency: %.2f ms\n",
				time.Now().Format("15:04:05"), msgs, atomic.LoadInt64(&resets), avgLat)
		}
	}
}
