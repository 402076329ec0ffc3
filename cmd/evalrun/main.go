// Command evalrun evaluates one prescriptive norm against case facts from the
// command line and prints the per-node outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"normgate/internal/catalog"
	"normgate/internal/engine"
	"normgate/internal/evalcache"
	"normgate/internal/judge"
)

func main() {
	catalogDir := flag.String("catalog", "catalog", "path to the norm catalog directory")
	normID := flag.String("norm", "", "prescriptive norm id to evaluate")
	caseFile := flag.String("case", "", "path to a file with the case facts; - reads stdin")
	judgeKind := flag.String("judge", "fake", "judge backend: fake, gemini, openai")
	model := flag.String("model", "", "model id for the chosen judge backend")
	asJSON := flag.Bool("json", false, "print the final states as JSON")
	flag.Parse()
	if *normID == "" {
		log.Fatal("--norm is required")
	}
	if *caseFile == "" {
		log.Fatal("--case is required")
	}

	_ = godotenv.Load()

	caseText, err := readCase(*caseFile)
	if err != nil {
		log.Fatal(err)
	}

	cat, err := catalog.Load(*catalogDir)
	if err != nil {
		log.Fatal(err)
	}
	pn, err := cat.Norm(*normID)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	oracle, err := buildJudge(ctx, *judgeKind, *model)
	if err != nil {
		log.Fatal(err)
	}
	defer oracle.Close()

	eng, err := engine.New(pn, cat.SharedFor(pn), engine.WithCache(evalcache.NewMemory()))
	if err != nil {
		log.Fatal(err)
	}

	decision, err := eng.Evaluate(ctx, caseText, oracle)
	if err != nil {
		log.Fatal(err)
	}

	states := eng.States()
	if *asJSON {
		out, err := json.MarshalIndent(map[string]any{
			"normId":       pn.ID,
			"rootDecision": decision,
			"states":       states,
		}, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("%s: %s\n", pn.ID, pn.Title)
	for _, st := range states {
		line := fmt.Sprintf("  %-40s %s", st.NodeID, st.Status)
		if st.Result != nil {
			line += fmt.Sprintf("  %-5v (%.2f)", st.Result.Decision, st.Result.Confidence)
		}
		fmt.Println(line)
	}
	fmt.Printf("root decision: %v\n", decision)
	if !decision {
		return
	}
	if verbatim := strings.TrimSpace(pn.LegalConsequence.Verbatim); verbatim != "" {
		fmt.Printf("legal consequence: %s\n", verbatim)
	}
}

func readCase(path string) (string, error) {
	if path == "-" {
		raw, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func buildJudge(ctx context.Context, kind, model string) (judge.Judge, error) {
	switch kind {
	case "gemini":
		return judge.NewGeminiJudge(ctx, os.Getenv("GEMINI_API_KEY"), model)
	case "openai":
		return judge.NewOpenAIJudge(os.Getenv("OPENAI_API_KEY"), model)
	case "fake":
		return judge.NewFakeJudge(false, fakeRulesFromEnv()...), nil
	default:
		return nil, fmt.Errorf("unknown judge kind %q", kind)
	}
}

// fakeRulesFromEnv parses FAKE_JUDGE_RULES, a semicolon list of
// substring=yes|no pairs, so offline runs can steer individual questions.
func fakeRulesFromEnv() []judge.FakeRule {
	raw := strings.TrimSpace(os.Getenv("FAKE_JUDGE_RULES"))
	if raw == "" {
		return nil
	}
	var rules []judge.FakeRule
	for _, pair := range strings.Split(raw, ";") {
		match, verdict, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(match) == "" {
			continue
		}
		rules = append(rules, judge.FakeRule{
			Match:    strings.TrimSpace(match),
			Decision: strings.EqualFold(strings.TrimSpace(verdict), "yes"),
		})
	}
	return rules
}
