// Command homaping measures request/reply round trips. With no
// arguments it runs a self-contained demo over an in-process fake
// network. Given -serve it answers pings over UDP or WebSocket; given a
// peer address it sends them.
//
//	homaping
//	homaping -serve -listen 127.0.0.1:10101
//	homaping 127.0.0.1:10101
//	homaping -ws -serve -listen 127.0.0.1:8080
//	homaping -ws ws://127.0.0.1:8080/homa
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/linkdata/homa"
	"github.com/linkdata/homa/drivers/fake"
	"github.com/linkdata/homa/drivers/udp"
	"github.com/linkdata/homa/drivers/ws"
)

type byteCounter struct {
	written int64
	read    int64
}

func (bc *byteCounter) AddBytesWritten(n int64) { atomic.AddInt64(&bc.written, n) }
func (bc *byteCounter) AddBytesRead(n int64)    { atomic.AddInt64(&bc.read, n) }

func (bc *byteCounter) String() string {
	return fmt.Sprintf("%d bytes sent, %d bytes received",
		atomic.LoadInt64(&bc.written), atomic.LoadInt64(&bc.read))
}

// serve echoes every request payload back as the reply until the
// context is done.
func serve(ctx context.Context, t *homa.Transport) {
	go func() { _ = t.Run(ctx) }()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		op := t.ReceiveOp()
		if op == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		if err := op.Append(op.Payload()); err == nil {
			if err = t.SendReply(op); err != nil {
				log.Printf("homaping: %v", err)
			}
		}
		t.ReleaseOp(op)
	}
}

// ping sends count requests of size payload bytes and prints per-ping
// and aggregate round trip times.
func ping(ctx context.Context, t *homa.Transport, dest homa.Address, count, size int) error {
	go func() { _ = t.Run(ctx) }()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		op := t.AllocOp()
		if err := op.Append(payload); err != nil {
			return err
		}
		start := time.Now()
		if err := t.SendRequest(op, dest); err != nil {
			return err
		}
		for op.State() != homa.StateCompleted {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			time.Sleep(100 * time.Microsecond)
		}
		rtt := time.Since(start)
		total += rtt
		fmt.Printf("%d bytes from %s: seq=%d time=%v\n", len(op.Payload()), dest, i, rtt)
		t.ReleaseOp(op)
	}
	fmt.Printf("%d round trips, avg %v\n", count, total/time.Duration(count))
	return nil
}

func runFakeDemo(ctx context.Context, count, size int) error {
	n := fake.NewNetwork()
	defer n.Close()
	clientDriver := fake.NewDriver(n)
	serverDriver := fake.NewDriver(n)
	defer clientDriver.Close()
	defer serverDriver.Close()

	var bc byteCounter
	clientDriver.SetStatsCollector(&bc)

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	go serve(serverCtx, homa.NewTransport(serverDriver, 2))

	err := ping(ctx, homa.NewTransport(clientDriver, 1), serverDriver.LocalAddress(), count, size)
	fmt.Println(bc.String())
	return err
}

func main() {
	serveFlag := flag.Bool("serve", false, "answer pings instead of sending them")
	listenAddr := flag.String("listen", "127.0.0.1:10101", "the address to listen on when serving")
	useWs := flag.Bool("ws", false, "tunnel packets over WebSocket instead of UDP")
	transportId := flag.Uint64("id", 1, "the transport id, unique per peer")
	count := flag.Int("count", 10, "number of pings to send")
	size := flag.Int("size", 4096, "ping payload size in bytes")
	flag.Parse()

	ctx := context.Background()

	if !*serveFlag && flag.NArg() < 1 {
		if err := runFakeDemo(ctx, *count, *size); err != nil {
			log.Fatalln(err)
		}
		return
	}

	switch {
	case *serveFlag && *useWs:
		http.HandleFunc("/homa", func(w http.ResponseWriter, r *http.Request) {
			d, err := ws.Upgrade(w, r)
			if err != nil {
				log.Printf("homaping: %v", err)
				return
			}
			defer d.Close()
			serve(r.Context(), homa.NewTransport(d, *transportId))
		})
		log.Fatalln(http.ListenAndServe(*listenAddr, nil))

	case *serveFlag:
		d, err := udp.NewDriver(*listenAddr)
		if err != nil {
			log.Fatalln(err)
		}
		defer d.Close()
		serve(ctx, homa.NewTransport(d, *transportId))

	case *useWs:
		d, err := ws.Dial(flag.Arg(0))
		if err != nil {
			log.Fatalln(err)
		}
		defer d.Close()
		dest, _ := d.GetAddress(flag.Arg(0))
		if err = ping(ctx, homa.NewTransport(d, *transportId), dest, *count, *size); err != nil {
			log.Fatalln(err)
		}

	default:
		d, err := udp.NewDriver("127.0.0.1:0")
		if err != nil {
			log.Fatalln(err)
		}
		defer d.Close()
		dest, err := d.GetAddress(flag.Arg(0))
		if err != nil {
			log.Fatalln(err)
		}
		if err = ping(ctx, homa.NewTransport(d, *transportId), dest, *count, *size); err != nil {
			log.Fatalln(err)
		}
	}
}
