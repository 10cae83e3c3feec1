package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"certops/internal/config"
	"certops/internal/model"
)

// runTimeout bounds one pipeline run; it covers the full DNS propagation and
// ACME validation budgets with headroom.
const runTimeout = 15 * time.Minute

// Worker drains the issuance request queue. Requests are claimed with an
// optimistic lock, so multiple workers can share one queue safely.
type Worker struct {
	store  *Store
	runner *Runner
	config config.WorkerConfig
	logger *logrus.Entry

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a queue worker
func NewWorker(store *Store, runner *Runner, cfg config.WorkerConfig, logger *logrus.Entry) *Worker {
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Worker{
		store:       store,
		runner:      runner,
		config:      cfg,
		logger:      logger.WithField("component", "worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start launches the worker loop
func (w *Worker) Start() {
	if !w.config.Enabled {
		w.logger.Info("worker disabled, skipping")
		close(w.stoppedChan)
		return
	}

	w.logger.Infof("starting with interval=%ds batch=%d concurrency=%d",
		w.config.IntervalSec, w.config.BatchSize, w.config.Concurrency)
	go w.run()
}

// Stop stops the worker and waits for in-flight runs to finish
func (w *Worker) Stop() {
	if !w.config.Enabled {
		return
	}

	w.logger.Info("stopping")
	close(w.stopChan)
	<-w.stoppedChan
	w.logger.Info("stopped")
}

func (w *Worker) run() {
	defer close(w.stoppedChan)

	ticker := time.NewTicker(time.Duration(w.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	// Run immediately on start
	w.tick()

	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.stopChan:
			return
		}
	}
}

// tick claims and processes one batch
func (w *Worker) tick() {
	requests, err := w.store.PendingRequests(w.config.BatchSize)
	if err != nil {
		w.logger.Errorf("failed to fetch pending requests: %v", err)
		return
	}
	if len(requests) == 0 {
		return
	}

	w.logger.Infof("processing %d issuance requests", len(requests))

	sem := make(chan struct{}, w.config.Concurrency)
	var wg sync.WaitGroup
	for i := range requests {
		request := requests[i]

		// Claim before spawning; losing the claim means another worker
		// took it
		if err := w.store.MarkAsRunning(request.ID); err != nil {
			w.logger.Debugf("request %d: %v", request.ID, err)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(&request)
		}()
	}
	wg.Wait()
}

// process executes one claimed request
func (w *Worker) process(request *model.IssuanceRequest) {
	log := w.logger.WithFields(logrus.Fields{"request_id": request.ID, "run_id": request.RunID})
	log.Infof("processing request (attempt %d/%d)", request.Attempts+1, request.MaxAttempts)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	result := w.runner.Run(ctx, Request{
		RunID:       request.RunID,
		Domain:      request.Domain,
		Site:        request.Site,
		Port:        request.Port,
		Environment: request.Environment,
	})

	if err := w.store.Complete(request, result); err != nil {
		log.Errorf("failed to record run result: %v", err)
		return
	}

	if result.Status == model.IssuanceRequestStatusSuccess {
		log.WithField("fingerprint", result.Fingerprint).Info("request completed")
	} else {
		log.Warnf("request failed: %v", result.Err)
	}
}
