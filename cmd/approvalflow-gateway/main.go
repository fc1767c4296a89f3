package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/davidahmann/approvalflow/internal/api"
	"github.com/davidahmann/approvalflow/internal/auth"
	"github.com/davidahmann/approvalflow/internal/config"
	"github.com/davidahmann/approvalflow/internal/ledger"
	"github.com/davidahmann/approvalflow/internal/ledger/pgstore"
	"github.com/davidahmann/approvalflow/internal/ledger/sqlstore"
	"github.com/davidahmann/approvalflow/internal/policy"
	"github.com/davidahmann/approvalflow/internal/workflow"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newServer); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

func openStore(cfg config.DBConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(s.DB(), ledger.DBSQLite); err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(s.DB(), ledger.DBPostgres); err != nil {
			return nil, err
		}
		return s, nil
	default:
		log.Printf("no db driver configured, using in-memory store")
		return ledger.NewInMemoryStore(), nil
	}
}

func newServer(addr string, cfg config.Config) (*http.Server, error) {
	store, err := openStore(cfg.DB)
	if err != nil {
		return nil, err
	}

	loaded, err := policy.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded policy %s version %s (%s)", loaded.Policy.PolicyID, loaded.Policy.PolicyVersion, loaded.Hash)

	svc := workflow.NewService(store, loaded)

	if cfg.Escalation.SweepEnabled {
		interval := time.Duration(cfg.Escalation.SweepIntervalSeconds) * time.Second
		go runEscalationSweep(svc, interval)
	}

	h := &api.Handler{
		Auth:    auth.NewAuthenticatorFromEnv(cfg.TokenTable()),
		Service: svc,
		Metrics: api.NewMetrics(),
	}
	return &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

// runEscalationSweep periodically persists escalation flags. Reads
// derive escalation on their own, so the gateway stays correct even if
// this loop never runs; the sweep exists to write the audit entries.
func runEscalationSweep(svc *workflow.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		count, err := svc.SweepEscalations()
		if err != nil {
			log.Printf("escalation sweep error: %v", err)
			continue
		}
		if count > 0 {
			log.Printf("escalated %d decisions", count)
		}
	}
}

type envFn func(string) string
type listenFn func(*http.Server) error
type serverFactory func(addr string, cfg config.Config) (*http.Server, error)

func run(args []string, getenv envFn, listen listenFn, factory serverFactory) error {
	fs := flag.NewFlagSet("approvalflow-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to approvalflow config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("APPROVALFLOW_CONFIG_PATH")
	}

	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	addr := firstNonEmpty(getenv("APPROVALFLOW_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.PolicyPath = firstNonEmpty(getenv("APPROVALFLOW_POLICY_PATH"), cfg.PolicyPath, "policies/tenant.yaml")

	server, err := factory(addr, cfg)
	if err != nil {
		return err
	}

	log.Printf("approvalflow-gateway listening on %s", addr)
	if err := listen(server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
