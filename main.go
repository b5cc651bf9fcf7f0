package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/keyward/keyward/internal/audit"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/database"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/handlers"
	"github.com/keyward/keyward/internal/keycrypto"
	"github.com/keyward/keyward/internal/keyring"
	"github.com/keyward/keyward/internal/keystore"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/middleware"
	"github.com/keyward/keyward/internal/session"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--list", "--accept", "--accept-all", "--reject", "--reject-all",
			"--delete", "--delete-all", "--finger", "--gen-keys", "--gen-signature":
			runCLICommand(strings.TrimPrefix(os.Args[1], "--"), os.Args[2:])
			return
		}
	}

	config.Load("")
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if err := keycrypto.EnsureMasterKeyPair(config.Cfg.PKIDir, config.Cfg.DefaultKeyBits); err != nil {
		log.Fatalf("Master key init: %v", err)
	}

	audit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)
	retention := audit.StartRetentionJob(audit.Get())
	defer retention.Stop()

	hub := events.NewHub()
	eng, err := newEngine(hub)
	if err != nil {
		log.Fatalf("Engine init: %v", err)
	}
	handlers.Keys = eng
	handlers.EventHub = hub

	if !config.Cfg.AuthDisabled {
		if token, created, err := middleware.EnsureAPIToken(); err != nil {
			log.Fatalf("API token init: %v", err)
		} else if created {
			// Shown once; afterwards retrieve it from the sealed settings copy.
			log.Printf("API token (save this): %s", token)
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Agent-facing submission path (agents hold no operator token).
		r.Post("/minion/keys", handlers.SubmitKey)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Get("/keys", handlers.ListKeys)
			r.Get("/keys/fingerprints", handlers.GetFingerprints)
			r.Get("/keys/events", handlers.KeyEvents)
			r.Get("/keys/{state}", handlers.ListKeysByState)
			r.Post("/keys/preview", handlers.PreviewKeys)
			r.Post("/keys/accept", handlers.AcceptKeys)
			r.Post("/keys/reject", handlers.RejectKeys)
			r.Post("/keys/delete", handlers.DeleteKeys)
			r.Post("/keys/accept-all", handlers.AcceptAllKeys)
			r.Post("/keys/reject-all", handlers.RejectAllKeys)
			r.Post("/keys/delete-all", handlers.DeleteAllKeys)
			r.Post("/keys/generate", handlers.GenerateKeys)
			r.Post("/keys/sign", handlers.SignMasterKey)

			r.Get("/audit", handlers.GetAuditLogs)
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s (keystore backend: %s)", config.Cfg.ListenAddr, config.Cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// newEngine builds the lifecycle engine from the loaded configuration:
// keystore backend, session invalidator, audit, and key policy. Call
// after database.Init and audit.InitGlobal.
func newEngine(hub *events.Hub) (*keyring.Engine, error) {
	var store keystore.Store
	switch config.Cfg.StoreBackend {
	case "fs", "":
		fs, err := keystore.NewFSStore(config.Cfg.PKIDir)
		if err != nil {
			return nil, fmt.Errorf("filesystem keystore: %w", err)
		}
		store = fs
	case "sqlite":
		store = keystore.NewDBStore(database.DB)
	default:
		return nil, fmt.Errorf("unknown keystore backend %q", config.Cfg.StoreBackend)
	}

	var inv session.Invalidator
	switch {
	case !config.Cfg.RotateSessionKey:
		inv = session.Noop{}
	case config.Cfg.InvalidateEndpoint != "":
		inv = &session.HTTPInvalidator{Endpoint: config.Cfg.InvalidateEndpoint}
	default:
		inv = &session.DropfileInvalidator{CacheDir: config.Cfg.CacheDir}
	}

	return keyring.New(keyring.Options{
		Store:       store,
		Invalidator: inv,
		Auditor:     audit.Get(),
		Events:      hub,
		MinKeyBits:  config.Cfg.MinKeyBits,
		AssumeYes:   config.Cfg.AssumeYes,
	}), nil
}

func runCLICommand(command string, args []string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	yes := fs.Bool("y", false, "Skip confirmation prompts")
	fs.BoolVar(yes, "yes", false, "Skip confirmation prompts")
	includeAll := fs.Bool("include-all", false, "Include accepted/rejected keys in the operation")
	configFile := fs.String("config", "", "Path to master config file")
	bits := fs.Int("bits", 0, "RSA key size for --gen-keys")
	dir := fs.String("dir", "", "Output directory for --gen-keys")
	autoCreate := fs.Bool("auto-create", false, "Generate the signing keypair if missing")
	fs.Parse(args)

	config.Load(*configFile)
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	audit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)

	if *yes {
		config.Cfg.AssumeYes = true
	}

	eng, err := newEngine(nil)
	if err != nil {
		log.Fatalf("Engine init: %v", err)
	}
	eng = eng.ForActor("cli")

	ctx := context.Background()
	arg := fs.Arg(0)

	switch command {
	case "list":
		runList(eng, arg)
	case "finger":
		runFinger(eng, arg)
	case "accept":
		requireArg(command, arg)
		res := confirmAndRun(eng, arg, keyring.OpAccept, *includeAll, false, func() (*keyring.Result, error) {
			return eng.Accept(ctx, arg, *includeAll)
		})
		printResult(res)
	case "accept-all":
		res := confirmAndRun(eng, "*", keyring.OpAccept, false, true, func() (*keyring.Result, error) {
			return eng.AcceptAll(ctx)
		})
		printResult(res)
	case "reject":
		requireArg(command, arg)
		res := confirmAndRun(eng, arg, keyring.OpReject, *includeAll, false, func() (*keyring.Result, error) {
			return eng.Reject(ctx, arg, *includeAll)
		})
		printResult(res)
	case "reject-all":
		res := confirmAndRun(eng, "*", keyring.OpReject, false, true, func() (*keyring.Result, error) {
			return eng.RejectAll(ctx)
		})
		printResult(res)
	case "delete":
		requireArg(command, arg)
		res := confirmAndRun(eng, arg, keyring.OpDelete, false, false, func() (*keyring.Result, error) {
			return eng.Delete(ctx, arg)
		})
		printResult(res)
	case "delete-all":
		res := confirmAndRun(eng, "*", keyring.OpDelete, false, true, func() (*keyring.Result, error) {
			return eng.DeleteAll(ctx)
		})
		printResult(res)
	case "gen-keys":
		requireArg(command, arg)
		outDir := *dir
		if outDir == "" {
			outDir = config.Cfg.GenDir
		}
		keyBits := *bits
		if keyBits == 0 {
			keyBits = config.Cfg.DefaultKeyBits
		}
		privPath, pubPath, err := eng.Generate(ctx, outDir, arg, keyBits)
		if err != nil {
			log.Fatalf("Key generation failed: %v", err)
		}
		fmt.Printf("Wrote %s and %s\n", privPath, pubPath)
	case "gen-signature":
		if err := keycrypto.EnsureMasterKeyPair(config.Cfg.PKIDir, config.Cfg.DefaultKeyBits); err != nil {
			log.Fatalf("Master key init: %v", err)
		}
		sigPath, err := keycrypto.SignMasterKey(config.Cfg.PKIDir, config.Cfg.DefaultKeyBits, *autoCreate)
		if err != nil {
			log.Fatalf("Signature failed: %v", err)
		}
		fmt.Printf("Wrote %s\n", sigPath)
	}
}

func requireArg(command, arg string) {
	if arg == "" {
		fmt.Fprintf(os.Stderr, "Usage: keyward --%s <match>\n", command)
		os.Exit(1)
	}
}

func runList(eng *keyring.Engine, stateArg string) {
	if stateArg != "" {
		state, err := keystore.ParseState(stateArg)
		if err != nil {
			log.Fatalf("%v", err)
		}
		recs, err := eng.Store().ListState(state)
		if err != nil {
			log.Fatalf("List failed: %v", err)
		}
		fmt.Printf("%s:\n", state.Display())
		for _, rec := range recs {
			fmt.Printf("  %s\n", rec.MinionID)
		}
		return
	}

	partitions, err := eng.Partitions()
	if err != nil {
		log.Fatalf("List failed: %v", err)
	}
	printPartitions(partitions)
}

func runFinger(eng *keyring.Engine, pattern string) {
	if pattern == "" {
		pattern = "*"
	}
	fps, err := eng.Fingerprints(pattern)
	if err != nil {
		log.Fatalf("Fingerprint failed: %v", err)
	}
	for _, name := range sortedKeys(fps) {
		fmt.Printf("%s:\n", name)
		byID := fps[name]
		for _, id := range sortedKeys(byID) {
			fmt.Printf("  %s  %s\n", id, byID[id])
		}
	}
}

// needsConfirmation decides whether the gate prompts: the -all variants
// always do, as does any operation touching more than one key. A plain
// accept of a single match is the only unprompted case.
func needsConfirmation(op keyring.Op, bulk bool, total int) bool {
	return bulk || total > 1 || op != keyring.OpAccept
}

// confirmAndRun applies the confirmation gate: trust-changing operations
// require an interactive yes unless -y or the configured assume-yes
// default is set.
func confirmAndRun(eng *keyring.Engine, pattern string, op keyring.Op, includeAll, bulk bool, run func() (*keyring.Result, error)) *keyring.Result {
	if !eng.AssumeYes() {
		p, err := eng.Preview(pattern, op, includeAll)
		if err != nil {
			log.Fatalf("Preview failed: %v", err)
		}
		if p.Total == 0 {
			fmt.Println("No keys matched.")
			os.Exit(0)
		}
		if needsConfirmation(op, bulk, p.Total) {
			fmt.Printf("This %s will affect the following keys:\n", op)
			for _, name := range sortedKeys(p.Matches) {
				fmt.Printf("%s:\n", name)
				for _, id := range p.Matches[name] {
					fmt.Printf("  %s\n", id)
				}
			}
			if !promptYes() {
				fmt.Println("Aborted.")
				os.Exit(0)
			}
		}
	}

	res, err := run()
	if err != nil {
		log.Fatalf("Operation failed: %v", err)
	}
	return res
}

func promptYes() bool {
	fmt.Print("Proceed? [n/Y] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "" || answer == "y" || answer == "yes"
}

func printResult(res *keyring.Result) {
	for _, kr := range res.Results {
		if kr.Reason != "" {
			fmt.Printf("%s: %s (%s)\n", kr.MinionID, kr.Outcome, kr.Reason)
		} else {
			fmt.Printf("%s: %s\n", kr.MinionID, kr.Outcome)
		}
	}
	if res.Invalidated {
		fmt.Println("Session invalidation requested.")
	}
	if res.InvalidateErr != "" {
		fmt.Printf("WARNING: key state changed but session invalidation failed: %s\n", res.InvalidateErr)
	}
}

func printPartitions(partitions map[string][]string) {
	for _, name := range sortedKeys(partitions) {
		fmt.Printf("%s:\n", name)
		for _, id := range partitions[name] {
			fmt.Printf("  %s\n", id)
		}
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
