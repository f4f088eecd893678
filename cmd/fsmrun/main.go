// Command fsmrun drives a small fetch -> summarize -> publish workflow
// through the engine package, to exercise every storage backend and the
// LLM action wrappers from one place.
//
// Usage:
//
//	fsmrun -store=memory
//	fsmrun -store=sqlite -sqlite-path=./fsmrun.db
//	fsmrun -store=mysql -mysql-dsn="user:pass@tcp(127.0.0.1:3306)/statewalk?parseTime=true"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sdyne/statewalk/actions/fetch"
	"github.com/sdyne/statewalk/actions/llm"
	"github.com/sdyne/statewalk/engine"
	"github.com/sdyne/statewalk/engine/emit"
	"github.com/sdyne/statewalk/engine/store"
)

func main() {
	var (
		storeKind  = flag.String("store", "memory", "backing store: memory, sqlite, or mysql")
		sqlitePath = flag.String("sqlite-path", "./fsmrun.db", "path for the sqlite store")
		mysqlDSN   = flag.String("mysql-dsn", "", "DSN for the mysql store")
		tenantID   = flag.String("tenant", "fsmrun-demo", "tenant id scoping the run's history")
		provider   = flag.String("provider", "", "LLM provider for the summarize state: anthropic, openai, google, or empty to stub it out")
		topic      = flag.String("topic", "the history of finite state machines", "topic the demo pipeline fetches and summarizes")
		url        = flag.String("url", "", "URL to fetch before summarizing, or empty to summarize -topic directly")
	)
	flag.Parse()

	st, closeStore, err := openStore(*storeKind, *sqlitePath, *mysqlDSN, *tenantID)
	if err != nil {
		log.Fatalf("fsmrun: %v", err)
	}
	defer closeStore()

	g := demoGraph(*topic, *url, *provider)

	e, err := engine.New(st, g,
		engine.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
		engine.WithVisitLimits(map[string]int{store.DefaultLimitKey: 5}),
	)
	if err != nil {
		log.Fatalf("fsmrun: build engine: %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		log.Fatalf("fsmrun: run: %v", err)
	}

	hist, err := st.GetDBHistory(context.Background())
	if err != nil {
		log.Fatalf("fsmrun: history: %v", err)
	}
	fmt.Println("run history:")
	for _, entry := range hist {
		fmt.Printf("  %-14s visits=%d yielded=%v params=%v\n", entry.Name, entry.VisitCount, entry.Yielded, entry.Params)
	}
}

func openStore(kind, sqlitePath, mysqlDSN, tenantID string) (store.Store, func(), error) {
	switch kind {
	case "memory":
		return store.NewMemoryStore(tenantID), func() {}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(sqlitePath, tenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "mysql":
		if mysqlDSN == "" {
			return nil, nil, fmt.Errorf("-mysql-dsn is required for -store=mysql")
		}
		s, err := store.NewMySQLStore(mysqlDSN, tenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown -store %q (want memory, sqlite, or mysql)", kind)
	}
}

// demoGraph builds a three-stage pipeline: INITIAL_STATE either pulls
// url's body or falls back to a canned prompt about topic, SUMMARIZE sends
// it through an LLM action (or a stub if no provider is given), and
// PUBLISH prints the summary before reaching the sink.
func demoGraph(topic, url, provider string) engine.Graph {
	fetchAction := fetchOrCannedPrompt(topic, url)
	summarize := summarizeAction(provider)

	publish := func(ctx context.Context, params map[string]any) (any, error) {
		summary, _ := params[llm.ResponseKey].(string)
		fmt.Printf("\npublished summary: %s\n\n", summary)
		return engine.ActionResult{OK: true, Params: map[string]any{"published": true}}, nil
	}

	return engine.Graph{
		store.InitialState:  {Action: fetchAction, OnSuccess: "SUMMARIZE", OnFailure: "SUMMARIZE", CanContinue: true},
		"SUMMARIZE":          {Action: summarize, OnSuccess: "PUBLISH", OnFailure: "PUBLISH", CanContinue: true},
		"PUBLISH":            {Action: publish, OnSuccess: store.TerminalState, OnFailure: store.TerminalState, CanContinue: true},
		store.TerminalState: {},
	}
}

// fetchOrCannedPrompt returns an action that, given a non-empty url, fetches
// it and summarizes its body; otherwise it builds a prompt around topic
// directly, so the demo still runs offline.
func fetchOrCannedPrompt(topic, url string) engine.Action {
	if url == "" {
		return func(ctx context.Context, params map[string]any) (any, error) {
			return engine.ActionResult{OK: true, Params: map[string]any{
				llm.PromptKey: fmt.Sprintf("In two sentences, summarize: %s", topic),
			}}, nil
		}
	}

	httpFetch := fetch.Action(nil)
	return func(ctx context.Context, params map[string]any) (any, error) {
		raw, err := httpFetch(ctx, map[string]any{"url": url})
		if err != nil {
			return nil, err
		}
		ar, _ := raw.(engine.ActionResult)
		if !ar.OK {
			return ar, nil
		}
		body, _ := ar.Params["body"].(string)
		return engine.ActionResult{OK: true, Params: map[string]any{
			llm.PromptKey: fmt.Sprintf("In two sentences, summarize the following:\n\n%s", body),
		}}, nil
	}
}

func summarizeAction(provider string) engine.Action {
	systemPrompt := "You are a terse technical writer."
	switch provider {
	case "anthropic":
		return llm.AnthropicAction(os.Getenv("ANTHROPIC_API_KEY"), "", systemPrompt, nil)
	case "openai":
		return llm.OpenAIAction(os.Getenv("OPENAI_API_KEY"), "", systemPrompt, nil)
	case "google":
		return llm.GoogleAction(os.Getenv("GOOGLE_API_KEY"), "", systemPrompt, nil)
	default:
		return stubSummarize
	}
}

// stubSummarize stands in for an LLM call when no -provider is given, so
// the demo pipeline runs end to end without API keys.
func stubSummarize(ctx context.Context, params map[string]any) (any, error) {
	prompt, _ := params[llm.PromptKey].(string)
	return engine.ActionResult{OK: true, Params: map[string]any{
		llm.ResponseKey: "(stub) " + prompt,
	}}, nil
}
