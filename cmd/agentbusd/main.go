// Command agentbusd runs the Enhanced Agent Bus governance daemon: it wires
// the constitutional validator, role registry, policy client, impact
// scorer, adaptive router, circuit breakers, health aggregator, recovery
// orchestrator, deliberation queue, voting service, HITL manager, agent
// bus, audit/metering sinks, and chaos injector into one process and
// serves HITL review + health endpoints over HTTP.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	system "github.com/R3E-Network/agentbus/applications/system"
	"github.com/R3E-Network/agentbus/governance/audit"
	"github.com/R3E-Network/agentbus/governance/breaker"
	"github.com/R3E-Network/agentbus/governance/bus"
	"github.com/R3E-Network/agentbus/governance/chaos"
	"github.com/R3E-Network/agentbus/governance/deliberation"
	"github.com/R3E-Network/agentbus/governance/health"
	"github.com/R3E-Network/agentbus/governance/hitl"
	"github.com/R3E-Network/agentbus/governance/impact"
	"github.com/R3E-Network/agentbus/governance/message"
	"github.com/R3E-Network/agentbus/governance/metering"
	"github.com/R3E-Network/agentbus/governance/policy"
	"github.com/R3E-Network/agentbus/governance/processor"
	gvrouter "github.com/R3E-Network/agentbus/governance/router"
	"github.com/R3E-Network/agentbus/governance/roles"
	"github.com/R3E-Network/agentbus/governance/scheduler"
	"github.com/R3E-Network/agentbus/governance/voting"

	"github.com/R3E-Network/agentbus/infrastructure/logging"
	"github.com/R3E-Network/agentbus/infrastructure/metrics"
	"github.com/R3E-Network/agentbus/infrastructure/middleware"
	"github.com/R3E-Network/agentbus/infrastructure/ratelimit"
	"github.com/R3E-Network/agentbus/infrastructure/state"
	engine "github.com/R3E-Network/agentbus/system/core"
)

const governanceDomain = "governance"

func main() {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	log := logging.New("agentbusd", cfg.Logging.Level, cfg.Logging.Format)

	// healthMon tracks each governance component's own starting/started/failed
	// status (distinct from health.Aggregator's breaker-weighted score), the
	// per-module readiness bookkeeping system/core was built for.
	healthMon := engine.NewHealthMonitor()
	componentStart := time.Now()

	backend, err := buildBackend(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("agentbusd: failed to initialize storage backend")
	}
	store, err := state.NewPersistentState(state.Config{Backend: backend, KeyPrefix: "deliberation:"})
	if err != nil {
		log.WithError(err).Fatal("agentbusd: failed to initialize persistent state")
	}

	var healthAgg *health.Aggregator
	breakerCfg := breaker.DefaultConfig()
	breakerCfg.OnStateChange = func(dependency string, from, to breaker.State) {
		if healthAgg != nil {
			healthAgg.NotifyStateChange(dependency, from, to)
		}
	}
	breakers := breaker.NewRegistry(breakerCfg)
	healthAgg = health.New(health.Config{
		Breakers:     breakers,
		Dependencies: []string{"policy-engine", "audit.primary"},
		Host:         &health.GopsutilSampler{HighWatermark: cfg.Health.HostWatermark},
		Interval:     time.Second,
	})
	healthAgg.Start()

	policyEngine, err := policy.NewGojaEngine(defaultAllowAllPolicyScript)
	if err != nil {
		log.WithError(err).Fatal("agentbusd: failed to compile default policy script")
	}
	policyClient, err := policy.New(policy.Config{
		Engine:     policyEngine,
		CacheSize:  cfg.Policy.CacheSize,
		FailClosed: !cfg.Policy.FailOpen,
	})
	if err != nil {
		log.WithError(err).Fatal("agentbusd: failed to build policy client")
	}

	roleRegistry := roles.NewRegistry(roles.Config{StrictMode: false, LooseDefaultRole: roles.RoleExecutive})
	scorer := impact.New(impact.Config{
		Timeout:        100 * time.Millisecond,
		ContextQuality: impact.MetadataContextQualitySignal{},
	})
	router := gvrouter.New(gvrouter.Config{})
	queue := deliberation.New(store)
	agentBus := bus.New(bus.Config{InboxCapacity: 256, RateLimit: ratelimit.DefaultConfig()})
	votingSvc := voting.New(queue, roleRegistry, 5)
	votingSvc.SetLogger(log)
	if secret := cfg.Voting.SignatureSecret; secret != "" {
		votingSvc.SetSignatureVerifier(voting.HKDFSignatureVerifier{MasterKey: []byte(secret)})
	}
	notifier := hitl.NewWebSocketNotifier(log.Logger.WithField("component", "hitl"), nil)
	hitlMgr := hitl.New(queue, notifier)
	validator := message.NewValidator(cfg.Policy.ConstitutionalHash)

	metricsReg := metrics.New("agentbusd")
	auditQ := audit.New(audit.Config{
		Sinks:    []audit.Sink{logAuditSink{}},
		Breakers: breakers,
	})
	meteringQ := metering.New(metering.Config{Sink: logMeteringSink{}})
	injector := chaos.NewInjector(cfg.Chaos.Mode)

	proc := processor.New(processor.Config{
		Validator: validator,
		Roles:     roleRegistry,
		Policy:    policyClient,
		Scorer:    scorer,
		Router:    router,
		Bus:       agentBus,
		Queue:     queue,
		AuditQ:    auditQ,
		Injector:  injector,
	})

	sched := scheduler.New(log.Logger.WithField("component", "scheduler"))
	_, err = sched.AddJob(scheduler.Job{
		Name: "expire_overdue_deliberations",
		Cron: cfg.Scheduler.ExpireOverdueCron,
		Run: func(ctx context.Context) error {
			queue.ExpireOverdue(ctx, time.Now())
			return nil
		},
	})
	if err != nil {
		log.WithError(err).Fatal("agentbusd: failed to schedule expiry sweep")
	}

	router2 := chi.NewRouter()
	router2.Use(chimw.RequestID, chimw.Recoverer)
	router2.Use(middleware.MetricsMiddleware("agentbusd", metricsReg))
	router2.Get("/healthz", healthzHandler(healthAgg))
	router2.Post("/messages", submitMessageHandler(proc))

	// HITL review and vote casting reach deliberation items directly, so they
	// require an authenticated service/reviewer identity ahead of any
	// governance check; /messages doesn't need this since every message
	// there is already re-authorized per-agent by the processor pipeline.
	router2.Group(func(r chi.Router) {
		r.Use(middleware.RequireServiceAuth)
		r.Handle("/hitl/ws", notifier)
		r.Post("/hitl/callback", hitlCallbackHandler(hitlMgr))
		r.Post("/voting/vote", voteHandler(votingSvc))
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + itoa(cfg.Server.Port),
		Handler: router2,
	}

	manager := system.NewManager()
	if err := manager.Register(httpServerService{srv: httpServer, log: log}); err != nil {
		log.WithError(err).Fatal("agentbusd: failed to register HTTP server")
	}
	if err := manager.Register(sched); err != nil {
		log.WithError(err).Fatal("agentbusd: failed to register scheduler")
	}
	if err := manager.Register(queueService{name: "audit-queue", start: auditQ.Start, stop: auditQ.Stop}); err != nil {
		log.WithError(err).Fatal("agentbusd: failed to register audit queue")
	}
	if err := manager.Register(queueService{name: "metering-queue", start: meteringQ.Start, stop: meteringQ.Stop}); err != nil {
		log.WithError(err).Fatal("agentbusd: failed to register metering queue")
	}
	if err := manager.Register(queueService{
		name:  "deliberation-outcomes",
		start: proc.RunOutcomes,
		stop:  func() {},
	}); err != nil {
		log.WithError(err).Fatal("agentbusd: failed to register deliberation outcome dispatcher")
	}

	for _, name := range []string{
		"validator", "roles", "policy", "impact", "router", "bus", "deliberation",
		"voting", "hitl", "audit", "metering", "breaker", "health", "chaos",
		"scheduler", "http",
	} {
		healthMon.MarkStarted(name, governanceDomain, time.Since(componentStart).Nanoseconds())
	}
	router2.Get("/readyz", readyzHandler(healthMon))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Fatal("agentbusd: failed to start")
	}
	log.Info("agentbusd: started")

	<-ctx.Done()
	log.Info("agentbusd: shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := manager.Stop(stopCtx); err != nil {
		log.WithError(err).Error("agentbusd: error during shutdown")
	}
	healthAgg.Stop()
}

func buildBackend(cfg *Config, log *logging.Logger) (state.PersistenceBackend, error) {
	switch cfg.Database.Driver {
	case "postgres":
		backend, err := state.NewPostgresBackend(context.Background(), cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		backend.SetLogger(log)
		return backend, nil
	default:
		return state.NewMemoryBackend(5 * time.Minute), nil
	}
}

func healthzHandler(agg *health.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := agg.Last()
		w.Header().Set("Content-Type", "application/json")
		if snap.GlobalScore < 0.5 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(`{"global_score":` + ftoa(snap.GlobalScore) + `}`))
	}
}

// readyzHandler reports each governance component's own started/failed
// status, as distinct from healthzHandler's breaker-weighted score.
func readyzHandler(mon *engine.HealthMonitor) http.HandlerFunc {
	names := []string{
		"validator", "roles", "policy", "impact", "router", "bus", "deliberation",
		"voting", "hitl", "audit", "metering", "breaker", "health", "chaos",
		"scheduler", "http",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		modules := mon.ModulesHealth(names)
		w.Header().Set("Content-Type", "application/json")
		for _, m := range modules {
			if m.Status != engine.StatusStarted {
				w.WriteHeader(http.StatusServiceUnavailable)
				break
			}
		}
		_ = json.NewEncoder(w).Encode(modules)
	}
}

// submitMessageHandler decodes a message.Envelope from the request body and
// runs it through the full C12 pipeline, returning the Result as JSON.
func submitMessageHandler(proc *processor.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var envelope message.Envelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			http.Error(w, "invalid envelope: "+err.Error(), http.StatusBadRequest)
			return
		}
		result := proc.Process(r.Context(), envelope)
		w.Header().Set("Content-Type", "application/json")
		if result.Outcome == processor.OutcomeRejected {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		_ = json.NewEncoder(w).Encode(submitMessageResponse{
			Outcome: string(result.Outcome),
			ItemID:  result.ItemID,
			Reason:  errorString(result.Reason),
		})
	}
}

type submitMessageResponse struct {
	Outcome string `json:"outcome"`
	ItemID  string `json:"item_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// hitlCallbackHandler decodes a reviewer's approve/reject decision and
// applies it to the referenced deliberation item.
func hitlCallbackHandler(mgr *hitl.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ItemID     string `json:"item_id"`
			ReviewerID string `json:"reviewer_id"`
			Approve    bool   `json:"approve"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid callback: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := mgr.Callback(r.Context(), req.ItemID, req.ReviewerID, req.Approve); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// voteHandler decodes a critic's signed vote and tallies it against the
// referenced multi-vote-tier deliberation item.
func voteHandler(svc *voting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ItemID    string `json:"item_id"`
			AgentID   string `json:"agent_id"`
			Approve   bool   `json:"approve"`
			Signature string `json:"signature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid vote: "+err.Error(), http.StatusBadRequest)
			return
		}
		tally, err := svc.Vote(r.Context(), req.ItemID, req.AgentID, req.Approve, req.Signature)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tally)
	}
}

// httpServerService adapts *http.Server to applications/system.Service.
type httpServerService struct {
	srv *http.Server
	log *logging.Logger
}

func (s httpServerService) Name() string { return "http" }

func (s httpServerService) Start(ctx context.Context) error {
	ln, err := listen(s.srv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("agentbusd: http server exited")
		}
	}()
	return nil
}

func (s httpServerService) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

const defaultAllowAllPolicyScript = `
function evaluate(input, policyPath) {
	return {decision: "allow", violations: [], metadata: {}};
}
`
