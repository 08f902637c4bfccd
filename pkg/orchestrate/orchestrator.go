package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jobscan/jobscan/pkg/assist"
	"github.com/jobscan/jobscan/pkg/config"
	"github.com/jobscan/jobscan/pkg/dedup"
	"github.com/jobscan/jobscan/pkg/detect"
	"github.com/jobscan/jobscan/pkg/extract"
	"github.com/jobscan/jobscan/pkg/fetch"
	"github.com/jobscan/jobscan/pkg/lock"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/storage"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	skipReasonDeadline = "cycle deadline exceeded"
	hostEvictInterval  = 5 * time.Minute
)

// ErrEngineClosed is returned by scans started after Close
var ErrEngineClosed = errors.New("scan engine closed")

// StateRecorder persists per-source scan bookkeeping across runs
type StateRecorder interface {
	LastSuccess(sourceID string) (time.Time, bool)
	RecordOutcome(outcome *models.ScanOutcome, at time.Time)
}

// Options overrides collaborators the Engine would otherwise build from config.
// Collaborators passed in are not closed by Engine.Close.
type Options struct {
	Store      storage.JobStore
	Locker     lock.Locker
	Filler     assist.Filler
	State      StateRecorder
	HTTPClient *http.Client
	Clock      clock.Clock
}

// Engine is the pipeline context shared by every source visit: configuration,
// politeness controls, extractor, deduplicator and store.
type Engine struct {
	appCfg  *config.AppConfig
	log     *logrus.Entry
	clock   clock.Clock
	sources []models.Source // Configuration order, enabled and disabled

	fetcher   *fetch.SourceFetcher
	extractor *extract.Extractor
	filler    assist.Filler
	dedup     *dedup.Deduplicator
	store     storage.JobStore
	state     StateRecorder

	lastScanMu sync.RWMutex
	lastScan   map[string]time.Time

	owned  []io.Closer
	bgStop context.CancelFunc
	bgWG   sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// NewEngine builds the pipeline from appCfg. Collaborators missing from opts
// are constructed from configuration and owned by the Engine.
func NewEngine(ctx context.Context, appCfg *config.AppConfig, opts Options, log *logrus.Entry) (*Engine, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("%w: no configuration", utils.ErrConfigValidation)
	}
	engineLog := log.WithField("component", "engine")

	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	e := &Engine{
		appCfg:   appCfg,
		log:      engineLog,
		clock:    clk,
		filler:   opts.Filler,
		state:    opts.State,
		lastScan: make(map[string]time.Time),
	}

	// --- Storage and locking ---
	e.store = opts.Store
	if e.store == nil {
		store, err := storage.Open(ctx, appCfg.Storage, log)
		if err != nil {
			return nil, err
		}
		e.store = store
		e.owned = append(e.owned, store)
	}

	locker := opts.Locker
	if locker == nil {
		l, err := lock.New(ctx, appCfg.Lock, clk, log.WithField("component", "lock"))
		if err != nil {
			e.closeOwned()
			return nil, err
		}
		locker = l
		if closer, ok := l.(io.Closer); ok {
			e.owned = append(e.owned, closer)
		}
	}
	e.dedup = dedup.NewDeduplicator(e.store, locker, clk, appCfg.Storage.WriteTimeout, log.WithField("component", "dedup"))

	// --- Fetching ---
	client := opts.HTTPClient
	if client == nil {
		var guard *fetch.PrivateNetworkDetector
		if appCfg.BlockPrivateNetworks {
			g, err := fetch.NewPrivateNetworkDetector()
			if err != nil {
				e.closeOwned()
				return nil, err
			}
			guard = g
		}
		client = fetch.NewClient(appCfg.HTTPClientSettings, guard, log)
	}
	fetchLog := log.WithField("component", "fetch")
	fetcher := fetch.NewFetcher(client, appCfg.MaxBodyBytes, clk, fetchLog)
	policy := fetch.PolicyFromConfig(appCfg)
	maxPerHost := appCfg.MaxRequestsPerHost
	if maxPerHost <= 0 {
		maxPerHost = 1
	}
	hosts := fetch.NewHostSemaphorePool(maxPerHost, clk, fetchLog)
	e.fetcher = fetch.NewSourceFetcher(
		fetcher,
		policy,
		fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, fetchLog),
		hosts,
		fetch.NewRobotsChecker(fetcher, policy, fetchLog),
		clk,
		fetchLog,
	)

	// --- Extraction ---
	extractLog := log.WithField("component", "extract")
	e.extractor = extract.NewExtractor(detect.NewDetector(extractLog), extractLog)
	if e.filler == nil && appCfg.LLM.Enabled {
		filler, err := assist.NewOpenAIFiller(appCfg.LLM, log.WithField("component", "assist"))
		if err != nil {
			engineLog.Warnf("Model-assisted extraction disabled: %v", err)
		} else {
			e.filler = filler
		}
	}

	// --- Sources ---
	for _, srcCfg := range appCfg.Sources {
		src := config.BuildSource(srcCfg, *appCfg)
		if e.state != nil {
			if at, ok := e.state.LastSuccess(src.ID); ok {
				e.lastScan[src.ID] = at
			}
		}
		e.sources = append(e.sources, src)
	}

	// --- Background maintenance ---
	bgCtx, bgStop := context.WithCancel(context.Background())
	e.bgStop = bgStop
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		hosts.RunEviction(bgCtx, hostEvictInterval)
	}()
	if gc, ok := e.store.(storage.GarbageCollector); ok && appCfg.Storage.GCInterval > 0 {
		e.bgWG.Add(1)
		go func() {
			defer e.bgWG.Done()
			gc.RunGC(bgCtx, appCfg.Storage.GCInterval)
		}()
	}

	engineLog.WithFields(logrus.Fields{
		"sources":     len(e.sources),
		"concurrency": e.concurrency(),
		"deadline":    appCfg.CycleDeadline,
		"model":       e.filler != nil,
	}).Info("Scan engine ready")
	return e, nil
}

// Store returns the engine's job store
func (e *Engine) Store() storage.JobStore { return e.store }

// Sources returns every configured source with its last successful scan time
func (e *Engine) Sources() []models.Source {
	e.lastScanMu.RLock()
	defer e.lastScanMu.RUnlock()
	out := make([]models.Source, len(e.sources))
	for i, src := range e.sources {
		src.LastScan = e.lastScan[src.ID]
		out[i] = src
	}
	return out
}

// Close stops background maintenance and releases owned collaborators.
// In-flight scans should be cancelled by the caller first.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	e.bgStop()
	e.bgWG.Wait()
	return e.closeOwned()
}

func (e *Engine) closeOwned() error {
	var firstErr error
	for i := len(e.owned) - 1; i >= 0; i-- {
		if err := e.owned[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.owned = nil
	return firstErr
}

func (e *Engine) concurrency() int {
	if e.appCfg.Concurrency <= 0 {
		return 1
	}
	return e.appCfg.Concurrency
}

// cycleContext bounds a scan by the configured cycle deadline
func (e *Engine) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.appCfg.CycleDeadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.appCfg.CycleDeadline)
}

// ScanAll visits every enabled source with at most Concurrency pipelines in
// flight. Sources not started before the cycle deadline are reported as
// skipped. Source failures are recorded in the report, never returned.
func (e *Engine) ScanAll(ctx context.Context) (*models.ScanReport, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	var enabled []models.Source
	for _, src := range e.Sources() {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	startTime := e.clock.Now()
	report := models.NewScanReport(startTime)
	e.log.Infof("Starting scan of %d sources (concurrency %d)", len(enabled), e.concurrency())

	cycleCtx, cancel := e.cycleContext(ctx)
	defer cancel()

	var reportMu sync.Mutex
	record := func(o *models.ScanOutcome) {
		reportMu.Lock()
		report.Outcomes[o.SourceID] = o
		reportMu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency())
	for _, src := range enabled {
		if cycleCtx.Err() != nil {
			record(models.SkippedOutcome(src.ID, skipReasonDeadline, e.clock.Now()))
			continue
		}
		g.Go(func() error {
			// A slot can free up after the deadline has passed
			if cycleCtx.Err() != nil {
				record(models.SkippedOutcome(src.ID, skipReasonDeadline, e.clock.Now()))
				return nil
			}
			record(e.visit(cycleCtx, src))
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = e.clock.Now().Sub(startTime)
	e.logSummary(report)
	return report, nil
}

// ScanOne runs the pipeline for a single enabled source. It may run while a
// ScanAll is in progress.
func (e *Engine) ScanOne(ctx context.Context, sourceID string) (*models.ScanOutcome, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	src, ok := e.findSource(sourceID)
	if !ok || !src.Enabled {
		return nil, fmt.Errorf("%w: %q", utils.ErrUnknownSource, sourceID)
	}

	cycleCtx, cancel := e.cycleContext(ctx)
	defer cancel()
	return e.visit(cycleCtx, src), nil
}

func (e *Engine) findSource(id string) (models.Source, bool) {
	for _, src := range e.Sources() {
		if src.ID == id {
			return src, true
		}
	}
	return models.Source{}, false
}

// markVisited records the outcome and, for successful visits, the last scan time
func (e *Engine) markVisited(outcome *models.ScanOutcome) {
	at := e.clock.Now()
	if outcome.Succeeded() {
		e.lastScanMu.Lock()
		e.lastScan[outcome.SourceID] = at
		e.lastScanMu.Unlock()
	}
	if e.state != nil {
		e.state.RecordOutcome(outcome, at)
	}
}

// ValidateSourceIDs checks that all provided ids name enabled sources
func ValidateSourceIDs(appCfg *config.AppConfig, ids []string) error {
	for _, id := range ids {
		srcCfg, exists := appCfg.FindSource(id)
		if !exists || !srcCfg.IsEnabled() {
			return fmt.Errorf("%w: %q (available: %v)", utils.ErrUnknownSource, id, EnabledSourceIDs(appCfg))
		}
	}
	return nil
}

// EnabledSourceIDs returns the ids of enabled sources in configuration order
func EnabledSourceIDs(appCfg *config.AppConfig) []string {
	enabled := appCfg.EnabledSources()
	ids := make([]string, 0, len(enabled))
	for _, s := range enabled {
		ids = append(ids, s.ID)
	}
	return ids
}
