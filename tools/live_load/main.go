// Command live_load opens many live-update clients against a running monitor and
// reports how many batches and wallet updates they receive.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mioxtw/sol-wallet-monitor/internal/events"
	"github.com/mioxtw/sol-wallet-monitor/internal/logging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	batches     atomic.Int64
	updates     atomic.Int64
	deletes     atomic.Int64
}

func (c *counters) record(batch events.BatchUpdate) {
	c.batches.Add(1)
	for _, u := range batch.Updates {
		if u.Type == events.TypeDelete {
			c.deletes.Add(1)
			continue
		}
		c.updates.Add(1)
	}
}

func (c *counters) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
		zap.Int64("batches", c.batches.Load()),
		zap.Int64("updates", c.updates.Load()),
		zap.Int64("deletes", c.deletes.Load()),
	}
}

func main() {
	app := &cli.App{
		Name:  "live_load",
		Usage: "load test the /api/stream and /ws endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base", Value: "http://localhost:3000", Usage: "monitor base url"},
			&cli.StringFlag{Name: "mode", Value: "sse", Usage: "sse or ws"},
			&cli.IntFlag{Name: "conns", Value: 500, Usage: "concurrent clients"},
			&cli.DurationFlag{Name: "dur", Value: time.Minute, Usage: "test duration, 0 runs until interrupted"},
			&cli.DurationFlag{Name: "ramp", Usage: "spread client starts across this window"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := logging.New("info", "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	conns := c.Int("conns")
	if conns <= 0 {
		return errors.Errorf("invalid conns: %d", conns)
	}
	mode := c.String("mode")
	dial, err := dialer(mode, strings.TrimRight(c.String("base"), "/"), conns)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("dur"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	ramp := c.Duration("ramp")
	if ramp == 0 && conns > 100 {
		ramp = max(time.Duration(conns/500)*time.Second, time.Second)
	}
	logger.Info("starting live load", zap.String("mode", mode), zap.Int("conns", conns), zap.Duration("ramp", ramp))

	var (
		stats counters
		wg    sync.WaitGroup
		start = time.Now()
		step  = ramp / time.Duration(conns)
	)

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("status", append(stats.fields(), zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))...)
			}
		}
	}()

	for i := 0; i < conns && ctx.Err() == nil; i++ {
		if i > 0 && step > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(step):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := dial(ctx, &stats)
			if err != nil && ctx.Err() == nil {
				stats.streamErrs.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := max(time.Since(start), time.Millisecond)
	logger.Info("done", append(stats.fields(),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
		zap.Float64("batches_per_sec", float64(stats.batches.Load())/elapsed.Seconds()))...)
	return nil
}

type dialFunc func(ctx context.Context, stats *counters) error

func dialer(mode, base string, conns int) (dialFunc, error) {
	switch mode {
	case "sse":
		client := &http.Client{Transport: &http.Transport{
			MaxConnsPerHost:     conns + 100,
			MaxIdleConnsPerHost: conns + 100,
			DisableCompression:  true,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		}}
		return func(ctx context.Context, stats *counters) error {
			return streamSSE(ctx, client, base+"/api/stream", stats)
		}, nil
	case "ws":
		url := "ws" + strings.TrimPrefix(base, "http") + "/ws"
		return func(ctx context.Context, stats *counters) error {
			return streamWS(ctx, url, stats)
		}, nil
	default:
		return nil, errors.Errorf("unknown mode %q", mode)
	}
}

func streamSSE(ctx context.Context, client *http.Client, url string, stats *counters) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return nil
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil
	}
	defer resp.Body.Close()
	stats.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var batch events.BatchUpdate
		if err := json.Unmarshal([]byte(data), &batch); err != nil {
			return errors.Wrap(err, "decode batch")
		}
		stats.record(batch)
	}
	return scanner.Err()
}

func streamWS(ctx context.Context, url string, stats *counters) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return nil
	}
	defer conn.Close()
	stats.connected.Add(1)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var batch events.BatchUpdate
		if err := conn.ReadJSON(&batch); err != nil {
			return err
		}
		stats.record(batch)
	}
}
