// orchestrator.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ironbeam_auto_go/broker"
	"ironbeam_auto_go/config"
	"ironbeam_auto_go/executor"
	"ironbeam_auto_go/logs"
	"ironbeam_auto_go/position"
	"ironbeam_auto_go/stream"
)

// Orchestrator wires the broker client, the configured executor and the
// metrics endpoint together: authenticate, discover open bracket
// positions, register them for management and run until stopped.
type Orchestrator struct {
	cfg    *config.Config
	client broker.Client

	threaded *executor.ThreadedExecutor
	async    *executor.AsyncExecutor

	metricsSrv *http.Server
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	var client broker.Client
	if cfg.UseSimulation {
		client = broker.NewMockClient()
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		if envCfg.Username == "" || envCfg.ApiKey == "" {
			return nil, fmt.Errorf("IRONBEAM_USERNAME and IRONBEAM_API_KEY must be set")
		}
		client = broker.NewAPIClient(envCfg.Username, envCfg.ApiKey, envCfg.Password,
			envCfg.BaseURL, cfg.Normal.HTTPTimeoutSeconds)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Normal.HTTPTimeoutSeconds)*time.Second)
	defer cancel()
	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate with broker: %w", err)
	}

	o := &Orchestrator{cfg: cfg, client: client}

	callTimeout := time.Duration(cfg.Normal.CallTimeoutSeconds) * time.Second
	switch cfg.Executor {
	case "stream":
		o.async = executor.NewAsyncExecutor(client, cfg.AccountID, streamConfig(cfg.Stream), callTimeout)
	default:
		interval := time.Duration(cfg.Normal.PollIntervalSeconds * float64(time.Second))
		o.threaded = executor.NewThreadedExecutor(client, cfg.AccountID, interval, callTimeout)
	}

	if err := o.registerOpenPositions(); err != nil {
		return nil, err
	}

	if cfg.Normal.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		o.metricsSrv = &http.Server{Addr: cfg.Normal.MetricsListenAddr, Handler: mux}
	}

	return o, nil
}

// registerOpenPositions maps every open position to its working bracket
// order and hands it to the executor.
func (o *Orchestrator) registerOpenPositions() error {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(o.cfg.Normal.CallTimeoutSeconds)*time.Second)
	defer cancel()

	positions, err := o.client.GetPositions(ctx, o.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("failed to fetch open positions: %w", err)
	}
	orders, err := o.client.GetOrders(ctx, o.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("failed to fetch working orders: %w", err)
	}

	ordersBySymbol := make(map[string]broker.Order)
	for _, ord := range orders {
		if _, ok := ordersBySymbol[ord.Symbol]; !ok {
			ordersBySymbol[ord.Symbol] = ord
		}
	}

	registered := 0
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		ord, ok := ordersBySymbol[p.Symbol]
		if !ok {
			logs.Warnf("[Orchestrator] Open position on %s has no working bracket order, skipping", p.Symbol)
			continue
		}

		st := &position.State{
			OrderID:    ord.OrderID,
			AccountID:  o.cfg.AccountID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			EntryPrice: p.EntryPrice,
			Quantity:   p.Quantity,
			TickSize:   o.cfg.TickSize,
		}
		if ord.StopLoss > 0 {
			st.SetStopLoss(ord.StopLoss)
		}
		if ord.TakeProfit > 0 {
			st.SetTakeProfit(ord.TakeProfit)
		}

		beCfg := o.cfg.Breakeven
		if beCfg != nil && !beCfg.Enabled {
			beCfg = nil
		}
		tpCfg := o.cfg.RunningTP
		if tpCfg != nil && !tpCfg.Enabled {
			tpCfg = nil
		}

		var merr error
		if o.threaded != nil {
			merr = o.threaded.Manage(st, beCfg, tpCfg)
		} else {
			merr = o.async.Manage(st, beCfg, tpCfg)
		}
		if merr != nil {
			return fmt.Errorf("failed to register position on %s: %w", p.Symbol, merr)
		}
		registered++
	}

	logs.Infof("[Orchestrator] Registered %d open position(s) for management", registered)
	return nil
}

// Start launches the metrics endpoint and the configured executor.
func (o *Orchestrator) Start() error {
	if o.metricsSrv != nil {
		go func() {
			logs.Infof("[Orchestrator] Serving metrics on %s/metrics", o.metricsSrv.Addr)
			if err := o.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Errorf("[Orchestrator] Metrics server failed: %v", err)
			}
		}()
	}

	if o.threaded != nil {
		o.threaded.Start()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := o.async.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream executor: %w", err)
	}

	// Surface a fatal stream failure in the logs; the executor has
	// already stopped itself cleanly by the time Done closes.
	go func() {
		<-o.async.Done()
		if err := o.async.Err(); err != nil {
			logs.Errorf("[Orchestrator] Stream executor terminated: %v", err)
		}
	}()
	return nil
}

// Stop shuts the executor and the metrics endpoint down gracefully.
func (o *Orchestrator) Stop() {
	logs.Info("[Orchestrator] Shutting down...")
	if o.threaded != nil {
		o.threaded.Stop()
	}
	if o.async != nil {
		o.async.Stop()
	}
	if o.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.metricsSrv.Shutdown(ctx)
	}
	logs.Info("[Orchestrator] Shutdown complete.")
}

// streamConfig translates the yaml block into the stream layer's config.
func streamConfig(c *config.StreamConfig) stream.Config {
	if c == nil {
		return stream.Config{}
	}
	return stream.Config{
		HandshakeTimeout:     time.Duration(c.HandshakeTimeoutSeconds) * time.Second,
		KeepAliveTimeout:     time.Duration(c.KeepAliveTimeoutSeconds) * time.Second,
		InitialBackoff:       time.Duration(c.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:           time.Duration(c.MaxBackoffSeconds) * time.Second,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
	}
}
